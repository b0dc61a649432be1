package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const orderColumns = `id, user_id, status, currency, total, items, shipping_address, email,
	payment_method, payment_status, gateway_order_ref, gateway_payment_ref, confirmed_via, paid_at,
	tracking, version, created_at, updated_at, shipped_at, delivered_at, cancelled_at`

type orderRepo struct {
	store *Store
}

func (r *orderRepo) Insert(ctx context.Context, order domain.Order) error {
	row, err := newOrderRow(order)
	if err != nil {
		return err
	}
	if row.version == 0 {
		row.version = 1
	}
	const query = `INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.store.conn(ctx).ExecContext(ctx, query,
		row.id, row.userID, row.status, row.currency, row.total, row.items, row.address, row.email,
		row.method, row.paymentStatus, row.gatewayOrderRef, row.gatewayPaymentRef, row.confirmedVia, row.paidAt,
		row.tracking, row.version, row.createdAt, row.updatedAt, row.shippedAt, row.deliveredAt, row.cancelledAt,
	)
	return wrapError("sqlite.orders.insert", err)
}

func (r *orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	order, err := scanOrder(r.store.conn(ctx).QueryRowContext(ctx, query, strings.TrimSpace(orderID)))
	if err != nil {
		return domain.Order{}, wrapError("sqlite.orders.get", err)
	}
	return order, nil
}

func (r *orderRepo) CompareAndSwap(ctx context.Context, order domain.Order, expect repositories.OrderPrecondition) (domain.Order, error) {
	row, err := newOrderRow(order)
	if err != nil {
		return domain.Order{}, err
	}
	const query = `UPDATE orders SET
			status = ?, currency = ?, total = ?, items = ?, shipping_address = ?, email = ?,
			payment_method = ?, payment_status = ?, gateway_order_ref = ?, gateway_payment_ref = ?,
			confirmed_via = ?, paid_at = ?, tracking = ?, updated_at = ?, shipped_at = ?,
			delivered_at = ?, cancelled_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND payment_status = ? AND (? = 0 OR version = ?)
		RETURNING version, created_at`

	conn := r.store.conn(ctx)
	var version, createdAt int64
	err = conn.QueryRowContext(ctx, query,
		row.status, row.currency, row.total, row.items, row.address, row.email,
		row.method, row.paymentStatus, row.gatewayOrderRef, row.gatewayPaymentRef,
		row.confirmedVia, row.paidAt, row.tracking, row.updatedAt, row.shippedAt,
		row.deliveredAt, row.cancelledAt,
		row.id, string(expect.Status), string(expect.PaymentStatus), expect.Version, expect.Version,
	).Scan(&version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		existsErr := conn.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, row.id).Scan(&exists)
		if existsErr != nil {
			return domain.Order{}, wrapError("sqlite.orders.cas", existsErr)
		}
		return domain.Order{}, repositories.NewStoreError("sqlite.orders.cas", repositories.ErrorKindConflict, errors.New("order state changed"))
	}
	if err != nil {
		return domain.Order{}, wrapError("sqlite.orders.cas", err)
	}
	order.Version = version
	order.CreatedAt = decodeTime(createdAt)
	return order, nil
}

func (r *orderRepo) ListAwaitingPayment(ctx context.Context, filter repositories.AwaitingPaymentFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE payment_method = ? AND status = ? AND payment_status = ?`
	args := []any{string(domain.PaymentMethodGateway), string(domain.OrderStatusPending), string(domain.PaymentStatusPending)}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, encodeTime(filter.CreatedBefore))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.store.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("sqlite.orders.awaiting_payment", err)
	}
	defer rows.Close()

	var result []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapError("sqlite.orders.awaiting_payment", err)
		}
		result = append(result, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("sqlite.orders.awaiting_payment", err)
	}
	return result, nil
}

type orderRow struct {
	id, userID, status, currency        string
	total                               int64
	items, address, email               string
	method, paymentStatus               string
	gatewayOrderRef, gatewayPaymentRef  string
	confirmedVia                        string
	paidAt                              sql.NullInt64
	tracking                            sql.NullString
	version, createdAt, updatedAt       int64
	shippedAt, deliveredAt, cancelledAt sql.NullInt64
}

func newOrderRow(order domain.Order) (orderRow, error) {
	items := order.Items
	if items == nil {
		items = []domain.OrderLineItem{}
	}
	encodedItems, err := encodeJSON(items)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode items: %w", err)
	}
	address, err := encodeJSON(order.ShippingAddress)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode address: %w", err)
	}
	tracking, err := nullableJSON(order.Tracking, order.Tracking != nil)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlite: encode tracking: %w", err)
	}
	return orderRow{
		id:                order.ID,
		userID:            order.UserID,
		status:            string(order.Status),
		currency:          order.Currency,
		total:             order.Total,
		items:             encodedItems,
		address:           address,
		email:             order.Email,
		method:            string(order.Payment.Method),
		paymentStatus:     string(order.Payment.Status),
		gatewayOrderRef:   order.Payment.GatewayOrderRef,
		gatewayPaymentRef: order.Payment.GatewayPaymentRef,
		confirmedVia:      string(order.Payment.ConfirmedVia),
		paidAt:            nullableTime(order.Payment.PaidAt),
		tracking:          tracking,
		version:           order.Version,
		createdAt:         encodeTime(order.CreatedAt),
		updatedAt:         encodeTime(order.UpdatedAt),
		shippedAt:         nullableTime(order.ShippedAt),
		deliveredAt:       nullableTime(order.DeliveredAt),
		cancelledAt:       nullableTime(order.CancelledAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(scanner rowScanner) (domain.Order, error) {
	var row orderRow
	if err := scanner.Scan(
		&row.id, &row.userID, &row.status, &row.currency, &row.total, &row.items, &row.address, &row.email,
		&row.method, &row.paymentStatus, &row.gatewayOrderRef, &row.gatewayPaymentRef, &row.confirmedVia, &row.paidAt,
		&row.tracking, &row.version, &row.createdAt, &row.updatedAt, &row.shippedAt, &row.deliveredAt, &row.cancelledAt,
	); err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:       row.id,
		UserID:   row.userID,
		Status:   domain.OrderStatus(row.status),
		Currency: row.currency,
		Total:    row.total,
		Email:    row.email,
		Payment: domain.Payment{
			Method:            domain.PaymentMethod(row.method),
			Status:            domain.PaymentStatus(row.paymentStatus),
			GatewayOrderRef:   row.gatewayOrderRef,
			GatewayPaymentRef: row.gatewayPaymentRef,
			ConfirmedVia:      domain.ConfirmationChannel(row.confirmedVia),
			PaidAt:            nullableTimePtr(row.paidAt),
		},
		Version:     row.version,
		CreatedAt:   decodeTime(row.createdAt),
		UpdatedAt:   decodeTime(row.updatedAt),
		ShippedAt:   nullableTimePtr(row.shippedAt),
		DeliveredAt: nullableTimePtr(row.deliveredAt),
		CancelledAt: nullableTimePtr(row.cancelledAt),
	}
	if err := json.Unmarshal([]byte(row.items), &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("sqlite: decode items: %w", err)
	}
	if err := json.Unmarshal([]byte(row.address), &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("sqlite: decode address: %w", err)
	}
	if row.tracking.Valid {
		var tracking domain.Tracking
		if err := json.Unmarshal([]byte(row.tracking.String), &tracking); err != nil {
			return domain.Order{}, fmt.Errorf("sqlite: decode tracking: %w", err)
		}
		order.Tracking = &tracking
	}
	return order, nil
}
