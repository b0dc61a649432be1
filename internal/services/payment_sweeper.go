package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/orders/internal/payments"
	"github.com/hanko-field/orders/internal/repositories"
)

const (
	defaultSweepMinAge    = 15 * time.Minute
	defaultSweepBatchSize = 50
)

// SweepMetrics records sweeper runs.
type SweepMetrics interface {
	SweepCompleted(confirmed int, err error)
}

// PaymentSweeperDeps bundles collaborators for the pending-payment sweeper.
type PaymentSweeperDeps struct {
	Orders     repositories.OrderRepository
	Lookup     PaymentLookup
	Reconciler PaymentReconciler
	MinAge     time.Duration
	BatchSize  int
	Metrics    SweepMetrics
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentSweeper struct {
	orders     repositories.OrderRepository
	lookup     PaymentLookup
	reconciler PaymentReconciler
	minAge     time.Duration
	batchSize  int
	metrics    SweepMetrics
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

var _ PaymentSweeper = (*paymentSweeper)(nil)

// NewPaymentSweeper constructs the sweeper.
func NewPaymentSweeper(deps PaymentSweeperDeps) (PaymentSweeper, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment sweeper: order repository is required")
	}
	if deps.Lookup == nil {
		return nil, errors.New("payment sweeper: payment lookup is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("payment sweeper: reconciler is required")
	}
	minAge := deps.MinAge
	if minAge <= 0 {
		minAge = defaultSweepMinAge
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentSweeper{
		orders:     deps.Orders,
		lookup:     deps.Lookup,
		reconciler: deps.Reconciler,
		minAge:     minAge,
		batchSize:  batch,
		metrics:    deps.Metrics,
		clock:      utcClock(deps.Clock),
		logger:     logger,
	}, nil
}

func (s *paymentSweeper) Sweep(ctx context.Context) (report SweepReport, err error) {
	defer func() {
		if s.metrics != nil {
			s.metrics.SweepCompleted(report.Confirmed, err)
		}
	}()

	cutoff := s.clock().Add(-s.minAge)
	orders, err := s.orders.ListAwaitingPayment(ctx, repositories.AwaitingPaymentFilter{
		CreatedBefore: cutoff,
		Limit:         s.batchSize,
	})
	if err != nil {
		return SweepReport{}, mapRepositoryError(err, ErrOrderNotFound, ErrRepositoryUnavailable)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Scanned++
		if order.Payment.GatewayOrderRef == "" {
			report.Skipped++
			continue
		}

		details, lookupErr := s.lookup.LookupPayment(ctx, order.Payment.GatewayOrderRef)
		switch {
		case errors.Is(lookupErr, payments.ErrPaymentNotFound):
			report.Skipped++
			continue
		case lookupErr != nil:
			report.Failed++
			s.logger(ctx, "payments.sweep.lookup_failed", map[string]any{"orderId": order.ID, "error": lookupErr})
			continue
		case !details.Captured():
			report.Skipped++
			continue
		}

		result, confirmErr := s.reconciler.SweepConfirm(ctx, order.ID, details)
		if confirmErr != nil {
			report.Failed++
			s.logger(ctx, "payments.sweep.confirm_failed", map[string]any{"orderId": order.ID, "error": confirmErr})
			continue
		}
		if result.Outcome == ReconcileApplied {
			report.Confirmed++
		} else {
			report.Skipped++
		}
	}

	s.logger(ctx, "payments.sweep.completed", map[string]any{
		"scanned":   report.Scanned,
		"confirmed": report.Confirmed,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
		"cutoff":    cutoff.Format(time.RFC3339),
	})
	if report.Failed > 0 && report.Failed == report.Scanned {
		return report, fmt.Errorf("%w: all %d candidate orders failed", ErrReconcileUnavailable, report.Failed)
	}
	return report, nil
}
