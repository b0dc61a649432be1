package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/retry"
	"github.com/hanko-field/orders/internal/platform/secrets"
	"github.com/hanko-field/orders/internal/services"
)

const (
	shutdownTimeout       = 15 * time.Second
	confirmRateLimit      = 30
	confirmRateWindow     = time.Minute
	firebaseVerifyTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("orders")
	ctx = observability.WithLogger(ctx, logger)

	if err := run(ctx, logger, startedAt); err != nil {
		logger.Error("orders api stopped with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, startedAt time.Time) error {
	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	build := buildInfoFromEnv(envValues, cfg, startedAt)
	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(build),
	)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	router := newRouter(ctx, logger, cfg, container, build)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group.Go(func() error {
		serverLogger.Info("orders api listening",
			zap.String("storage", cfg.Storage.Backend),
			zap.String("notifications", cfg.Notifications.Sink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if container.Scheduler != nil {
		container.Scheduler.Start()
		logger.Info("sweeper scheduled", zap.String("schedule", cfg.Sweeper.Schedule))
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newRouter(ctx context.Context, logger *zap.Logger, cfg config.Config, c *di.Container, build services.BuildInfo) http.Handler {
	svc := c.Services

	var authenticator *auth.Authenticator
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, firebaseVerifyTimeout)
	if err != nil {
		logger.Warn("auth: firebase verifier unavailable; authenticated routes will reject requests", zap.Error(err))
		authenticator = auth.NewAuthenticator(nil)
	} else {
		authenticator = auth.NewAuthenticator(verifier)
	}
	requireUser := authenticator.RequireFirebaseAuth()

	confirmRetry := retry.DefaultConfig()
	confirmRetry.MaxRetries = cfg.Payments.ConfirmRetryAttempts
	idempotencyMiddleware := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.StateMachine, svc.Reconciler,
		handlers.WithConfirmRetry(confirmRetry),
		handlers.WithConfirmRateLimit(confirmRateLimit, confirmRateWindow),
		handlers.WithIdempotency(idempotencyMiddleware),
	)
	cancellationHandlers := handlers.NewCancellationHandlers(svc.Cancellations)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciler, handlers.WithSignatureHeader(cfg.Payments.SignatureHeader))
	internalHandlers := handlers.NewInternalHandlers(svc.Sweeper)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware("/healthz", "/readyz", "/metrics"),
			observability.RecoveryMiddleware(logger.Named("http")),
			c.Metrics.Middleware("/healthz", "/readyz", "/metrics"),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(c.Metrics.Handler()),
		handlers.WithOrderMiddlewares(requireUser),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderRoutes(cancellationHandlers.OrderRoutes),
		handlers.WithCancellationMiddlewares(requireUser),
		handlers.WithCancellationRoutes(cancellationHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	opts = append(opts, handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)))
	return handlers.NewRouter(opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["ORDERS_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["ORDERS_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// buildOIDCMiddleware guards /internal. Without a key set URL or audience every internal call
// is refused with 503.
func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	var validator *auth.OIDCValidator
	if url := strings.TrimSpace(cfg.Security.OIDC.JWKSURL); url != "" {
		validator = auth.NewOIDCValidator(auth.NewJWKSCache(url), logger)
	}
	return validator.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	project := lookup("ORDERS_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("ORDERS_FIREBASE_PROJECT_ID")
	}
	fallback := lookup("ORDERS_SECRET_FALLBACK_FILE")
	if fallback == "" {
		fallback = ".secrets.local"
	}
	return secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallback),
	)
}

// requiredSecretNames makes the webhook secret mandatory outside local environments.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["ORDERS_SECURITY_ENVIRONMENT"]))
	switch environment {
	case "", "local", "dev", "test":
		return nil
	}
	names := []string{"Payments.WebhookSecret"}
	if strings.TrimSpace(env["ORDERS_PAYMENTS_STRIPE_API_KEY"]) != "" {
		names = append(names, "Payments.StripeAPIKey")
	}
	return names
}
