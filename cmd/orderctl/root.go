package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/di"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/secrets"
)

const envPrefix = "ORDERS_"

// app carries state shared by every subcommand once the root has parsed its flags.
type app struct {
	configFile string
	envFile    string
	verbose    bool

	env    map[string]string
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "orderctl",
		Short:         "Operate the order lifecycle engine",
		Long:          "orderctl runs schema migrations, payment sweeps and order lookups against the configured storage backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "YAML config file; keys mirror ORDERS_* variables (storage.backend -> ORDERS_STORAGE_BACKEND)")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "emit structured logs")

	root.AddCommand(
		newMigrateCommand(a),
		newSweepCommand(a),
		newOrderCommand(a),
		newWebhookCommand(a),
	)
	return root
}

func (a *app) init() error {
	fileValues, err := readConfigFile(a.configFile)
	if err != nil {
		return err
	}
	// The process environment wins over the file.
	for key := range fileValues {
		if _, ok := os.LookupEnv(key); ok {
			delete(fileValues, key)
		}
	}
	env, err := config.EnvironmentValues(config.WithEnvFile(a.envFile), config.WithEnvMap(fileValues))
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	a.env = env

	if a.verbose {
		logger, err := observability.NewLogger()
		if err != nil {
			return fmt.Errorf("initialise logger: %w", err)
		}
		a.logger = logger.Named("orderctl")
	} else {
		a.logger = zap.NewNop()
	}
	return nil
}

// loadConfig resolves the full configuration. Secret Manager is only contacted when a value
// is a secret reference.
func (a *app) loadConfig(ctx context.Context) (config.Config, error) {
	opts := []config.Option{config.WithEnvFile(a.envFile), config.WithEnvMap(a.env)}
	if hasSecretReference(a.env) {
		fetcher, err := secrets.NewFetcher(ctx,
			secrets.WithLogger(a.logger.Named("secrets")),
			secrets.WithProject(firstNonEmpty(a.env["ORDERS_SECRET_PROJECT_ID"], a.env["ORDERS_FIREBASE_PROJECT_ID"])),
			secrets.WithFallbackFile(firstNonEmpty(a.env["ORDERS_SECRET_FALLBACK_FILE"], ".secrets.local")),
		)
		if err != nil {
			return config.Config{}, fmt.Errorf("initialise secret fetcher: %w", err)
		}
		defer fetcher.Close()
		opts = append(opts, config.WithSecretResolver(fetcher))
	}
	cfg, err := config.Load(ctx, opts...)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			return config.Config{}, fmt.Errorf("load configuration: missing or invalid %s", strings.Join(invalid.Fields(), ", "))
		}
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// openContainer wires the same services the API runs with. Callers must Close it.
func (a *app) openContainer(ctx context.Context, opts ...di.Option) (*di.Container, error) {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]di.Option{di.WithLogger(a.logger)}, opts...)
	container, err := di.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("build container: %w", err)
	}
	return container, nil
}

// readConfigFile flattens a YAML file into ORDERS_* keys. Lists become comma separated values.
func readConfigFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	for _, key := range v.AllKeys() {
		values[envKey(key)] = flattenValue(v.Get(key))
	}
	return values, nil
}

func envKey(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return envPrefix + strings.ToUpper(replacer.Replace(key))
}

func flattenValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(typed, ",")
	default:
		return fmt.Sprint(typed)
	}
}

func hasSecretReference(env map[string]string) bool {
	for key, value := range env {
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
