package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRequestTimeout       = 60 * time.Second
	defaultStorageBackend       = StorageBackendFirestore
	defaultSQLitePath           = "data/orders.db"
	defaultSignatureHeader      = "X-Payment-Signature"
	defaultNotificationSink     = NotificationSinkLog
	defaultNotificationQueue    = 256
	defaultNotificationWorkers  = 4
	defaultNotificationTimeout  = 5 * time.Second
	defaultSweepSchedule        = "@every 5m"
	defaultSweepMinAge          = 15 * time.Minute
	defaultSweepBatchSize       = 50
	defaultReplayTTL            = 24 * time.Hour
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultConfirmRetryAttempts = 3
)

// Storage backends accepted by Storage.Backend.
const (
	StorageBackendFirestore = "firestore"
	StorageBackendSQLite    = "sqlite"
	StorageBackendMemory    = "memory"
)

// Notification sinks accepted by Notifications.Sink.
const (
	NotificationSinkLog    = "log"
	NotificationSinkPubSub = "pubsub"
	NotificationSinkKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Payments      PaymentsConfig
	Notifications NotificationsConfig
	Sweeper       SweeperConfig
	Archive       ArchiveConfig
	Cache         CacheConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Backend    string
	SQLitePath string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PaymentsConfig holds gateway credentials and reconciliation switches.
type PaymentsConfig struct {
	StripeAPIKey         string
	WebhookSecret        string
	SignatureHeader      string
	VerifyClientConfirm  bool
	ConfirmRetryAttempts int
	ReplayTTL            time.Duration
}

// NotificationsConfig controls the best-effort notification pipeline.
type NotificationsConfig struct {
	Sink            string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
}

// SweeperConfig controls the pending-payment sweep job.
type SweeperConfig struct {
	Enabled   bool
	Schedule  string
	MinAge    time.Duration
	BatchSize int
}

// ArchiveConfig names the bucket receiving rejected webhook bodies. Empty disables archiving.
type ArchiveConfig struct {
	WebhookBucket string
}

// CacheConfig selects the shared cache. An empty RedisAddr keeps caches in process memory.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
// Only hashed names are rendered so logs never carry the field layout of secrets.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers, sorted.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Payments.WebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the effective environment after applying the same precedence as
// Load (dotenv < OS env < explicit map), so callers can build the secret fetcher first.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables and Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "ORDERS_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "ORDERS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "ORDERS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "ORDERS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "ORDERS_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Storage: StorageConfig{
			Backend:    strings.ToLower(stringWithDefault(lookup, "ORDERS_STORAGE_BACKEND", defaultStorageBackend)),
			SQLitePath: stringWithDefault(lookup, "ORDERS_STORAGE_SQLITE_PATH", defaultSQLitePath),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "ORDERS_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "ORDERS_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ORDERS_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ORDERS_FIRESTORE_EMULATOR_HOST", ""),
		},
		Payments: PaymentsConfig{
			StripeAPIKey:         stringWithDefault(lookup, "ORDERS_PAYMENTS_STRIPE_API_KEY", ""),
			WebhookSecret:        stringWithDefault(lookup, "ORDERS_PAYMENTS_WEBHOOK_SECRET", ""),
			SignatureHeader:      stringWithDefault(lookup, "ORDERS_PAYMENTS_SIGNATURE_HEADER", defaultSignatureHeader),
			VerifyClientConfirm:  boolWithDefault(lookup, "ORDERS_PAYMENTS_VERIFY_CLIENT_CONFIRM", false),
			ConfirmRetryAttempts: intWithDefault(lookup, "ORDERS_PAYMENTS_CONFIRM_RETRY_ATTEMPTS", defaultConfirmRetryAttempts),
			ReplayTTL:            durationWithDefault(lookup, "ORDERS_PAYMENTS_REPLAY_TTL", defaultReplayTTL),
		},
		Notifications: NotificationsConfig{
			Sink:            strings.ToLower(stringWithDefault(lookup, "ORDERS_NOTIFICATIONS_SINK", defaultNotificationSink)),
			PubSubTopic:     stringWithDefault(lookup, "ORDERS_NOTIFICATIONS_PUBSUB_TOPIC", ""),
			KafkaBrokers:    csvWithDefault(lookup, "ORDERS_NOTIFICATIONS_KAFKA_BROKERS"),
			KafkaTopic:      stringWithDefault(lookup, "ORDERS_NOTIFICATIONS_KAFKA_TOPIC", ""),
			QueueSize:       intWithDefault(lookup, "ORDERS_NOTIFICATIONS_QUEUE_SIZE", defaultNotificationQueue),
			Workers:         intWithDefault(lookup, "ORDERS_NOTIFICATIONS_WORKERS", defaultNotificationWorkers),
			DeliveryTimeout: durationWithDefault(lookup, "ORDERS_NOTIFICATIONS_DELIVERY_TIMEOUT", defaultNotificationTimeout),
		},
		Sweeper: SweeperConfig{
			Enabled:   boolWithDefault(lookup, "ORDERS_SWEEP_ENABLED", true),
			Schedule:  stringWithDefault(lookup, "ORDERS_SWEEP_SCHEDULE", defaultSweepSchedule),
			MinAge:    durationWithDefault(lookup, "ORDERS_SWEEP_MIN_AGE", defaultSweepMinAge),
			BatchSize: intWithDefault(lookup, "ORDERS_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
		},
		Archive: ArchiveConfig{
			WebhookBucket: stringWithDefault(lookup, "ORDERS_WEBHOOK_ARCHIVE_BUCKET", ""),
		},
		Cache: CacheConfig{
			RedisAddr:     stringWithDefault(lookup, "ORDERS_CACHE_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "ORDERS_CACHE_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "ORDERS_CACHE_REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "ORDERS_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "ORDERS_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "ORDERS_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "ORDERS_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "ORDERS_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolver := options.secret
	if resolver == nil {
		resolver = SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		})
	}
	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Payments.WebhookSecret", &cfg.Payments.WebhookSecret},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, resolver)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Server.RequestTimeout > 0, "Server.RequestTimeout")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")

	switch cfg.Storage.Backend {
	case StorageBackendFirestore:
		require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	case StorageBackendSQLite:
		require(strings.TrimSpace(cfg.Storage.SQLitePath) != "", "Storage.SQLitePath")
	case StorageBackendMemory:
	default:
		missing = append(missing, "Storage.Backend")
	}

	require(strings.TrimSpace(cfg.Payments.SignatureHeader) != "", "Payments.SignatureHeader")
	require(cfg.Payments.ConfirmRetryAttempts > 0, "Payments.ConfirmRetryAttempts")

	switch cfg.Notifications.Sink {
	case NotificationSinkLog:
	case NotificationSinkPubSub:
		require(cfg.Notifications.PubSubTopic != "", "Notifications.PubSubTopic")
	case NotificationSinkKafka:
		require(len(cfg.Notifications.KafkaBrokers) > 0, "Notifications.KafkaBrokers")
		require(cfg.Notifications.KafkaTopic != "", "Notifications.KafkaTopic")
	default:
		missing = append(missing, "Notifications.Sink")
	}
	require(cfg.Notifications.QueueSize > 0, "Notifications.QueueSize")
	require(cfg.Notifications.Workers > 0, "Notifications.Workers")

	if cfg.Sweeper.Enabled {
		require(strings.TrimSpace(cfg.Sweeper.Schedule) != "", "Sweeper.Schedule")
		require(cfg.Sweeper.BatchSize > 0, "Sweeper.BatchSize")
	}
	require(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	require(cfg.Idempotency.TTL > 0, "Idempotency.TTL")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{})
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// loadDotEnv reads KEY=VALUE pairs through viper's dotenv codec. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	// viper lower-cases keys; environment lookups are upper case.
	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		values[strings.ToUpper(key)] = v.GetString(key)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, _ := lookup(key)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
