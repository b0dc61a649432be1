package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/migrations"
	"github.com/hanko-field/orders/internal/repositories"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	require.NoError(t, migrations.Up(db))
	store, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func sampleOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:       id,
		UserID:   "user-1",
		Status:   domain.OrderStatusPending,
		Currency: "JPY",
		Total:    2400,
		Items: []domain.OrderLineItem{
			{ProductID: "p1", Name: "Seal", Quantity: 2, UnitPrice: 1200, Total: 2400},
		},
		ShippingAddress: domain.Address{Recipient: "Aki", Line1: "1-1", City: "Tokyo", PostalCode: "100-0001", Country: "JP"},
		Email:           "aki@example.com",
		Payment: domain.Payment{
			Method:          domain.PaymentMethodGateway,
			Status:          domain.PaymentStatusPending,
			GatewayOrderRef: "pi_123",
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrdersInsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := time.Date(2025, 2, 1, 9, 30, 0, 123456789, time.UTC)

	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_1", created)))

	got, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(created))
	require.Len(t, got.Items, 1)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, "Tokyo", got.ShippingAddress.City)
	assert.Nil(t, got.Tracking)
	assert.Nil(t, got.Payment.PaidAt)

	err = store.Orders().Insert(ctx, sampleOrder("ord_1", created))
	assert.True(t, repositories.IsConflict(err))

	_, err = store.Orders().FindByID(ctx, "missing")
	assert.True(t, repositories.IsNotFound(err))
}

func TestOrdersCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := sampleOrder("ord_1", time.Unix(1_700_000_000, 0).UTC())
	require.NoError(t, store.Orders().Insert(ctx, order))

	paidAt := time.Unix(1_700_000_600, 0).UTC()
	update := order
	update.Status = domain.OrderStatusProcessing
	update.Payment.Status = domain.PaymentStatusPaid
	update.Payment.PaidAt = &paidAt
	update.Payment.ConfirmedVia = domain.ConfirmedViaWebhook

	saved, err := store.Orders().CompareAndSwap(ctx, update, repositories.PreconditionOf(order))
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = store.Orders().CompareAndSwap(ctx, update, repositories.PreconditionOf(order))
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err))

	missing := sampleOrder("ord_missing", time.Now())
	_, err = store.Orders().CompareAndSwap(ctx, missing, repositories.PreconditionOf(missing))
	assert.True(t, repositories.IsNotFound(err))

	got, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, got.Payment.Status)
	require.NotNil(t, got.Payment.PaidAt)
	assert.True(t, got.Payment.PaidAt.Equal(paidAt))
	assert.Equal(t, domain.ConfirmedViaWebhook, got.Payment.ConfirmedVia)
}

func TestOrdersCompareAndSwapSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := sampleOrder("ord_1", time.Unix(1, 0).UTC())
	require.NoError(t, store.Orders().Insert(ctx, order))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			update := order
			update.Status = domain.OrderStatusProcessing
			update.Payment.Status = domain.PaymentStatusPaid
			if _, err := store.Orders().CompareAndSwap(ctx, update, repositories.PreconditionOf(order)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestOrdersListAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_a", base.Add(-2*time.Hour))))
	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_b", base.Add(-time.Hour))))
	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_c", base.Add(time.Hour))))
	cod := sampleOrder("ord_cod", base.Add(-3*time.Hour))
	cod.Payment.Method = domain.PaymentMethodPayOnDelivery
	require.NoError(t, store.Orders().Insert(ctx, cod))

	list, err := store.Orders().ListAwaitingPayment(ctx, repositories.AwaitingPaymentFilter{CreatedBefore: base, Limit: 10})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ord_a", list[0].ID)
	assert.Equal(t, "ord_b", list[1].ID)
}

func TestCancellationUniquePendingIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_1", now)))

	first := domain.CancellationRequest{
		ID: "creq_1", OrderID: "ord_1", UserID: "user-1",
		Type: domain.CancellationTypeCancel, Reason: "changed my mind",
		Status: domain.CancellationStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CancellationRequests().Insert(ctx, first))

	second := first
	second.ID = "creq_2"
	err := store.CancellationRequests().Insert(ctx, second)
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err))

	decidedAt := now.Add(time.Minute)
	decided := first
	decided.Status = domain.CancellationStatusRejected
	decided.AdminResponse = "already packed"
	decided.DecidedBy = "staff-1"
	decided.DecidedAt = &decidedAt
	decided.UpdatedAt = decidedAt
	saved, err := store.CancellationRequests().UpdateIfPending(ctx, decided)
	require.NoError(t, err)
	assert.Equal(t, domain.CancellationStatusRejected, saved.Status)
	require.NotNil(t, saved.DecidedAt)

	_, err = store.CancellationRequests().UpdateIfPending(ctx, decided)
	assert.True(t, repositories.IsConflict(err))

	require.NoError(t, store.CancellationRequests().Insert(ctx, second))
	pending, err := store.CancellationRequests().FindPendingByOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "creq_2", pending.ID)

	all, err := store.CancellationRequests().ListByOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := sampleOrder("ord_1", time.Unix(1, 0).UTC())
	require.NoError(t, store.Orders().Insert(ctx, order))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		update := order
		update.Status = domain.OrderStatusCancelled
		update.Payment.Status = domain.PaymentStatusCancelled
		if _, err := store.Orders().CompareAndSwap(txCtx, update, repositories.PreconditionOf(order)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestRunInTxWaitsForConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	order := sampleOrder("ord_1", time.Unix(1, 0).UTC())
	require.NoError(t, store.Orders().Insert(ctx, order))

	written := make(chan struct{})
	firstErr := make(chan error, 1)
	go func() {
		firstErr <- store.RunInTx(ctx, func(txCtx context.Context) error {
			update := order
			update.Status = domain.OrderStatusProcessing
			update.Payment.Status = domain.PaymentStatusPaid
			_, err := store.Orders().CompareAndSwap(txCtx, update, repositories.PreconditionOf(order))
			close(written)
			if err != nil {
				return err
			}
			time.Sleep(100 * time.Millisecond)
			return nil
		})
	}()

	<-written
	var seen domain.OrderStatus
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := store.Orders().FindByID(txCtx, "ord_1")
		if err != nil {
			return err
		}
		seen = current.Status
		update := current
		update.Status = domain.OrderStatusShipped
		_, err = store.Orders().CompareAndSwap(txCtx, update, repositories.PreconditionOf(current))
		return err
	})
	require.NoError(t, <-firstErr)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, seen)

	got, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusShipped, got.Status)
	assert.Equal(t, int64(3), got.Version)
}

func TestOrdersCompareAndSwapStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_1", time.Unix(1, 0).UTC())))
	read, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)

	refWrite := read
	refWrite.Payment.GatewayOrderRef = "pi_rotated"
	_, err = store.Orders().CompareAndSwap(ctx, refWrite, repositories.PreconditionOf(read))
	require.NoError(t, err)

	stale := read
	stale.Email = "other@example.com"
	_, err = store.Orders().CompareAndSwap(ctx, stale, repositories.PreconditionOf(read))
	assert.True(t, repositories.IsConflict(err))

	got, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_rotated", got.Payment.GatewayOrderRef)
	assert.Equal(t, "aki@example.com", got.Email)
}

func TestMigrationsVersion(t *testing.T) {
	store := newTestStore(t)
	version, err := migrations.Version(store.db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}
