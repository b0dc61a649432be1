package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/observability"
)

const defaultJobTimeout = 2 * time.Minute

// Runnable is a background task triggered by the scheduler.
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a plain function into a Runnable.
type Func struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f Func) Name() string { return f.JobName }

func (f Func) Run(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}

// Option customises the scheduler.
type Option func(*Scheduler)

// WithJobTimeout bounds each job execution.
func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// Scheduler wraps cron with zap logging, per-run timeouts and graceful shutdown.
// A job that is still running when its next tick fires is skipped.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	started bool
}

// NewScheduler builds a scheduler accepting optional seconds and descriptors such as "@every 5m".
func NewScheduler(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(observability.NewPrintfAdapter(logger))
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		logger:  logger,
		timeout: defaultJobTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register binds a cron expression to a job.
func (s *Scheduler) Register(schedule string, runnable Runnable) (cron.EntryID, error) {
	if runnable == nil {
		return 0, errors.New("scheduler: runnable is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return 0, errors.New("scheduler: schedule is required")
	}
	entryID, err := s.cron.AddFunc(schedule, s.wrap(runnable))
	if err != nil {
		return 0, err
	}
	s.logger.Info("job registered", zap.String("job", runnable.Name()), zap.String("schedule", schedule))
	return entryID, nil
}

// Entries reports the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts new ticks and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.started = false
	return s.cron.Stop()
}

func (s *Scheduler) wrap(runnable Runnable) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		ctx = observability.WithLogger(ctx, s.logger.Named("jobs"))

		start := s.now()
		if err := runnable.Run(ctx); err != nil {
			s.logger.Error("job failed",
				zap.String("job", runnable.Name()),
				zap.Error(err),
				zap.Duration("elapsed", s.now().Sub(start)),
			)
			return
		}
		s.logger.Debug("job completed", zap.String("job", runnable.Name()), zap.Duration("elapsed", s.now().Sub(start)))
	}
}
