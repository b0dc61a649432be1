package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/migrations"
	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/platform/auth"
	"github.com/hanko-field/orders/internal/platform/config"
	"github.com/hanko-field/orders/internal/platform/events"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/metrics"
	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	firestoreRepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
	sqliteRepo "github.com/hanko-field/orders/internal/repositories/sqlite"
	"github.com/hanko-field/orders/internal/services"
)

const sweepJobName = "payments.sweep"

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders        services.OrderService
	StateMachine  services.OrderStateMachine
	Reconciler    services.PaymentReconciler
	Cancellations services.CancellationWorkflow
	Dispatcher    services.NotificationDispatcher
	// Sweeper is nil when no payment gateway is configured.
	Sweeper services.PaymentSweeper
	System  services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.Metrics
	Idempotency  idempotency.Store
	Scheduler    *jobs.Scheduler

	logger  *zap.Logger
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

type options struct {
	logger   *zap.Logger
	registry repositories.Registry
	gateway  payments.Gateway
	build    services.BuildInfo
	clock    func() time.Time
}

// Option customises container construction.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry bypasses backend selection. The container does not close a supplied registry.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithGateway replaces the Stripe gateway built from configuration.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *options) {
		o.gateway = gateway
	}
}

func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies. On failure everything opened so far is
// closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  o.logger,
	}
	if err := c.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = c.Close(closeCtx)
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, o options) error {
	cfg := c.Config

	reg := o.registry
	if reg == nil {
		built, err := c.openRegistry(ctx, cfg.Storage, cfg.Firestore)
		if err != nil {
			return err
		}
		reg = built
	}
	c.Repositories = reg

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		c.onClose("redis", func(context.Context) error { return redisClient.Close() })
	}

	store, err := c.idempotencyStore(redisClient)
	if err != nil {
		return err
	}
	c.Idempotency = store

	sink, err := c.notificationSink(ctx, cfg.Notifications, cfg.Firestore.ProjectID)
	if err != nil {
		return err
	}
	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sink:            sink,
		QueueSize:       cfg.Notifications.QueueSize,
		Workers:         cfg.Notifications.Workers,
		DeliveryTimeout: cfg.Notifications.DeliveryTimeout,
		Metrics:         c.Metrics,
		Logger:          observability.EventLogger(c.logger, "notifications"),
	})
	if err != nil {
		return fmt.Errorf("build notification dispatcher: %w", err)
	}
	c.Services.Dispatcher = dispatcher
	c.onClose("notifications", dispatcher.Close)

	gateway := o.gateway
	if gateway == nil && strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: payments.StripeLogger(observability.EventLogger(c.logger, "stripe")),
		})
		if err != nil {
			return fmt.Errorf("build stripe gateway: %w", err)
		}
		gateway = stripeGateway
	}

	var verifier services.WebhookVerifier
	if secret := strings.TrimSpace(cfg.Payments.WebhookSecret); secret != "" {
		signer, err := auth.NewBodySigner(strings.Split(secret, ",")...)
		if err != nil {
			return fmt.Errorf("build webhook verifier: %w", err)
		}
		verifier = signer
	} else {
		c.logger.Warn("payments: webhook secret not configured; every webhook will be rejected")
	}

	archive, err := c.webhookArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	machine, err := services.NewOrderStateMachine(services.OrderStateMachineDeps{
		Orders:     reg.Orders(),
		Dispatcher: dispatcher,
		Metrics:    c.Metrics,
		Clock:      o.clock,
		Logger:     observability.EventLogger(c.logger, "orders"),
	})
	if err != nil {
		return fmt.Errorf("build order state machine: %w", err)
	}
	c.Services.StateMachine = machine

	reconcilerDeps := services.PaymentReconcilerDeps{
		Orders:              reg.Orders(),
		StateMachine:        machine,
		Verifier:            verifier,
		ReplayTTL:           cfg.Payments.ReplayTTL,
		VerifyClientConfirm: cfg.Payments.VerifyClientConfirm,
		Dispatcher:          dispatcher,
		Metrics:             c.Metrics,
		Clock:               o.clock,
		Logger:              observability.EventLogger(c.logger, "payments"),
	}
	if replay, ok := store.(services.ReplayCache); ok {
		reconcilerDeps.Replay = replay
	}
	if archive != nil {
		reconcilerDeps.Archive = archive
	}
	if gateway != nil {
		reconcilerDeps.Lookup = gateway
	}
	reconciler, err := services.NewPaymentReconciler(reconcilerDeps)
	if err != nil {
		return fmt.Errorf("build payment reconciler: %w", err)
	}
	c.Services.Reconciler = reconciler

	workflow, err := services.NewCancellationWorkflow(services.CancellationWorkflowDeps{
		Orders:       reg.Orders(),
		Requests:     reg.CancellationRequests(),
		UnitOfWork:   reg,
		StateMachine: machine,
		Dispatcher:   dispatcher,
		Metrics:      c.Metrics,
		Clock:        o.clock,
		Logger:       observability.EventLogger(c.logger, "cancellations"),
	})
	if err != nil {
		return fmt.Errorf("build cancellation workflow: %w", err)
	}
	c.Services.Cancellations = workflow

	orderDeps := services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Dispatcher: dispatcher,
		Clock:      o.clock,
		Logger:     observability.EventLogger(c.logger, "orders"),
	}
	if gateway != nil {
		orderDeps.Gateway = gateway
	}
	orderSvc, err := services.NewOrderService(orderDeps)
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}
	c.Services.Orders = orderSvc

	if gateway != nil {
		sweeper, err := services.NewPaymentSweeper(services.PaymentSweeperDeps{
			Orders:     reg.Orders(),
			Lookup:     gateway,
			Reconciler: reconciler,
			MinAge:     cfg.Sweeper.MinAge,
			BatchSize:  cfg.Sweeper.BatchSize,
			Metrics:    c.Metrics,
			Clock:      o.clock,
			Logger:     observability.EventLogger(c.logger, "sweeper"),
		})
		if err != nil {
			return fmt.Errorf("build payment sweeper: %w", err)
		}
		c.Services.Sweeper = sweeper
	}

	health, err := c.healthRepository(reg, redisClient)
	if err != nil {
		return fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		Health: health,
		Build:  o.build,
		Clock:  o.clock,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}
	c.Services.System = system

	return c.schedule(cfg.Sweeper)
}

func (c *Container) openRegistry(ctx context.Context, cfg config.StorageConfig, fsCfg config.FirestoreConfig) (repositories.Registry, error) {
	var (
		reg repositories.Registry
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.StorageBackendMemory:
		c.logger.Warn("storage: using in-memory repositories; data is lost on restart")
		reg = memory.NewStore()
	case config.StorageBackendSQLite:
		reg, err = openSQLite(cfg.SQLitePath)
	case config.StorageBackendFirestore, "":
		provider := pfirestore.NewProvider(fsCfg)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("initialise firestore client: %w", err)
		}
		reg, err = firestoreRepo.NewRegistry(provider)
		if err != nil {
			_ = provider.Close(ctx)
		}
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	c.onClose("repositories", reg.Close)
	return reg, nil
}

func openSQLite(path string) (repositories.Registry, error) {
	db, err := sqliteRepo.Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	store, err := sqliteRepo.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (c *Container) idempotencyStore(client *redis.Client) (idempotency.Store, error) {
	if client == nil {
		return idempotency.NewCacheStore(), nil
	}
	store, err := idempotency.NewRedisStore(client, "orders:idem:")
	if err != nil {
		return nil, fmt.Errorf("build redis idempotency store: %w", err)
	}
	return store, nil
}

func (c *Container) notificationSink(ctx context.Context, cfg config.NotificationsConfig, projectID string) (services.NotificationSink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Sink)) {
	case config.NotificationSinkPubSub:
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("initialise pubsub client: %w", err)
		}
		c.onClose("pubsub", func(context.Context) error { return client.Close() })
		sink, err := events.NewPubSubSink(client.Topic(cfg.PubSubTopic))
		if err != nil {
			return nil, err
		}
		c.onClose("pubsub topic", func(context.Context) error { return sink.Close() })
		return sink, nil
	case config.NotificationSinkKafka:
		writer, err := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		sink, err := events.NewKafkaSink(writer)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		c.onClose("kafka", func(context.Context) error { return sink.Close() })
		return sink, nil
	case config.NotificationSinkLog, "":
		return events.NewLogSink(c.logger.Named("notifications")), nil
	default:
		return nil, fmt.Errorf("unsupported notification sink %q", cfg.Sink)
	}
}

func (c *Container) webhookArchive(ctx context.Context, cfg config.ArchiveConfig) (*storage.WebhookArchive, error) {
	bucket := strings.TrimSpace(cfg.WebhookBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise storage client: %w", err)
	}
	c.onClose("storage", func(context.Context) error { return client.Close() })
	archive, err := storage.NewWebhookArchive(client, bucket)
	if err != nil {
		return nil, fmt.Errorf("build webhook archive: %w", err)
	}
	return archive, nil
}

// healthRepository reports the repository backend as one check and adds redis when configured.
func (c *Container) healthRepository(reg repositories.Registry, client *redis.Client) (repositories.HealthRepository, error) {
	if client == nil {
		return reg.Health(), nil
	}
	return repositories.NewProbeHealthRepository([]repositories.Probe{
		{
			Name: "repositories",
			Check: func(ctx context.Context) error {
				report, err := reg.Health().Collect(ctx)
				if err != nil {
					return err
				}
				for name, check := range report.Checks {
					if check.Error != "" {
						return fmt.Errorf("%s: %s", name, check.Error)
					}
				}
				return nil
			},
		},
		{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
	})
}

func (c *Container) schedule(cfg config.SweeperConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if c.Services.Sweeper == nil {
		c.logger.Warn("sweeper: enabled but no payment gateway configured; skipping schedule")
		return nil
	}
	scheduler := jobs.NewScheduler(c.logger.Named("jobs"))
	sweeper := c.Services.Sweeper
	if _, err := scheduler.Register(cfg.Schedule, jobs.Func{
		JobName: sweepJobName,
		Fn: func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx)
			return err
		},
	}); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}
	c.Scheduler = scheduler
	return nil
}

func (c *Container) onClose(name string, fn func(ctx context.Context) error) {
	c.closers = append(c.closers, namedCloser{name: name, close: fn})
}

// Close stops the scheduler, drains notifications, then releases clients in reverse order
// of construction.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Scheduler != nil {
		select {
		case <-c.Scheduler.Stop().Done():
		case <-ctx.Done():
		}
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.close(ctx); err != nil {
			c.logger.Warn("close failed", zap.String("resource", closer.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
