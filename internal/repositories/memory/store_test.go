package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

func sampleOrder(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:       id,
		UserID:   "user-1",
		Status:   domain.OrderStatusPending,
		Currency: "JPY",
		Total:    1200,
		Items:    []domain.OrderLineItem{{ProductID: "p1", Name: "Seal", Quantity: 1, UnitPrice: 1200, Total: 1200}},
		Payment: domain.Payment{
			Method: domain.PaymentMethodGateway,
			Status: domain.PaymentStatusPending,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrdersCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	orders := store.Orders()

	order := sampleOrder("ord_1", time.Unix(100, 0).UTC())
	require.NoError(t, orders.Insert(ctx, order))

	update := order
	update.Status = domain.OrderStatusProcessing
	update.Payment.Status = domain.PaymentStatusPaid

	saved, err := orders.CompareAndSwap(ctx, update, repositories.PreconditionOf(order))
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = orders.CompareAndSwap(ctx, update, repositories.PreconditionOf(order))
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err))

	stored, err := orders.FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, stored.Status)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Payment.Status)
}

func TestOrdersCompareAndSwapStaleVersion(t *testing.T) {
	ctx := context.Background()
	orders := NewStore().Orders()
	require.NoError(t, orders.Insert(ctx, sampleOrder("ord_1", time.Unix(100, 0).UTC())))
	read, err := orders.FindByID(ctx, "ord_1")
	require.NoError(t, err)

	refWrite := read
	refWrite.Payment.GatewayOrderRef = "pi_rotated"
	_, err = orders.CompareAndSwap(ctx, refWrite, repositories.PreconditionOf(read))
	require.NoError(t, err)

	stale := read
	stale.Email = "late@example.com"
	_, err = orders.CompareAndSwap(ctx, stale, repositories.PreconditionOf(read))
	assert.True(t, repositories.IsConflict(err))

	unversioned := repositories.OrderPrecondition{Status: read.Status, PaymentStatus: read.Payment.Status}
	saved, err := orders.CompareAndSwap(ctx, stale, unversioned)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Version)
}

func TestOrdersFindByIDNotFound(t *testing.T) {
	_, err := NewStore().Orders().FindByID(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, repositories.IsNotFound(err))
}

func TestOrdersReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.Orders().Insert(ctx, sampleOrder("ord_1", time.Unix(1, 0).UTC())))

	first, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	first.Items[0].Quantity = 99

	second, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Items[0].Quantity)
}

func TestOrdersListAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	orders := store.Orders()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, orders.Insert(ctx, sampleOrder("ord_old", base)))
	require.NoError(t, orders.Insert(ctx, sampleOrder("ord_older", base.Add(-time.Hour))))
	require.NoError(t, orders.Insert(ctx, sampleOrder("ord_new", base.Add(time.Hour))))

	cod := sampleOrder("ord_cod", base.Add(-2*time.Hour))
	cod.Payment.Method = domain.PaymentMethodPayOnDelivery
	require.NoError(t, orders.Insert(ctx, cod))

	list, err := orders.ListAwaitingPayment(ctx, repositories.AwaitingPaymentFilter{CreatedBefore: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ord_older", list[0].ID)
	assert.Equal(t, "ord_old", list[1].ID)

	limited, err := orders.ListAwaitingPayment(ctx, repositories.AwaitingPaymentFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCancellationInsertRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	requests := NewStore().CancellationRequests()

	first := domain.CancellationRequest{ID: "creq_1", OrderID: "ord_1", Status: domain.CancellationStatusPending}
	require.NoError(t, requests.Insert(ctx, first))

	second := domain.CancellationRequest{ID: "creq_2", OrderID: "ord_1", Status: domain.CancellationStatusPending}
	err := requests.Insert(ctx, second)
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err))

	decided := first
	decided.Status = domain.CancellationStatusRejected
	_, err = requests.UpdateIfPending(ctx, decided)
	require.NoError(t, err)

	require.NoError(t, requests.Insert(ctx, second))
	pending, err := requests.FindPendingByOrder(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, "creq_2", pending.ID)
}

func TestCancellationUpdateIfPendingOnlyOnce(t *testing.T) {
	ctx := context.Background()
	requests := NewStore().CancellationRequests()
	require.NoError(t, requests.Insert(ctx, domain.CancellationRequest{ID: "creq_1", OrderID: "ord_1", Status: domain.CancellationStatusPending}))

	approved := domain.CancellationRequest{ID: "creq_1", Status: domain.CancellationStatusApproved}
	saved, err := requests.UpdateIfPending(ctx, approved)
	require.NoError(t, err)
	assert.Equal(t, "ord_1", saved.OrderID)

	rejected := domain.CancellationRequest{ID: "creq_1", Status: domain.CancellationStatusRejected}
	_, err = requests.UpdateIfPending(ctx, rejected)
	require.Error(t, err)
	assert.True(t, repositories.IsConflict(err))

	stored, err := requests.FindByID(ctx, "creq_1")
	require.NoError(t, err)
	assert.Equal(t, domain.CancellationStatusApproved, stored.Status)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	order := sampleOrder("ord_1", time.Unix(1, 0).UTC())
	require.NoError(t, store.Orders().Insert(ctx, order))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		update := order
		update.Status = domain.OrderStatusCancelled
		if _, err := store.Orders().CompareAndSwap(txCtx, update, repositories.PreconditionOf(order)); err != nil {
			return err
		}
		if err := store.CancellationRequests().Insert(txCtx, domain.CancellationRequest{ID: "creq_1", OrderID: "ord_1", Status: domain.CancellationStatusPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Orders().FindByID(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)

	_, err = store.CancellationRequests().FindByID(ctx, "creq_1")
	assert.True(t, repositories.IsNotFound(err))
}

func TestHealthReportsOK(t *testing.T) {
	report, err := NewStore().Health().Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
}
