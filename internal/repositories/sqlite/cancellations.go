package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

const requestColumns = `id, order_id, user_id, type, reason, status, admin_response, decided_by,
	created_at, updated_at, decided_at`

type cancellationRepo struct {
	store *Store
}

// Insert relies on the partial unique index over pending requests, so a concurrent second
// pending insert for the same order surfaces as a conflict.
func (r *cancellationRepo) Insert(ctx context.Context, request domain.CancellationRequest) error {
	const query = `INSERT INTO cancellation_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.store.conn(ctx).ExecContext(ctx, query,
		request.ID, request.OrderID, request.UserID, string(request.Type), request.Reason,
		string(request.Status), request.AdminResponse, request.DecidedBy,
		encodeTime(request.CreatedAt), encodeTime(request.UpdatedAt), nullableTime(request.DecidedAt),
	)
	return wrapError("sqlite.cancellations.insert", err)
}

func (r *cancellationRepo) FindByID(ctx context.Context, requestID string) (domain.CancellationRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM cancellation_requests WHERE id = ?`
	request, err := scanRequest(r.store.conn(ctx).QueryRowContext(ctx, query, strings.TrimSpace(requestID)))
	if err != nil {
		return domain.CancellationRequest{}, wrapError("sqlite.cancellations.get", err)
	}
	return request, nil
}

func (r *cancellationRepo) FindPendingByOrder(ctx context.Context, orderID string) (domain.CancellationRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM cancellation_requests WHERE order_id = ? AND status = ?`
	request, err := scanRequest(r.store.conn(ctx).QueryRowContext(ctx, query, orderID, string(domain.CancellationStatusPending)))
	if err != nil {
		return domain.CancellationRequest{}, wrapError("sqlite.cancellations.pending", err)
	}
	return request, nil
}

func (r *cancellationRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.CancellationRequest, error) {
	const query = `SELECT ` + requestColumns + ` FROM cancellation_requests
		WHERE order_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := r.store.conn(ctx).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, wrapError("sqlite.cancellations.list", err)
	}
	defer rows.Close()

	var result []domain.CancellationRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, wrapError("sqlite.cancellations.list", err)
		}
		result = append(result, request)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("sqlite.cancellations.list", err)
	}
	return result, nil
}

func (r *cancellationRepo) UpdateIfPending(ctx context.Context, request domain.CancellationRequest) (domain.CancellationRequest, error) {
	const query = `UPDATE cancellation_requests SET
			status = ?, admin_response = ?, decided_by = ?, updated_at = ?, decided_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + requestColumns
	conn := r.store.conn(ctx)
	saved, err := scanRequest(conn.QueryRowContext(ctx, query,
		string(request.Status), request.AdminResponse, request.DecidedBy,
		encodeTime(request.UpdatedAt), nullableTime(request.DecidedAt),
		request.ID, string(domain.CancellationStatusPending),
	))
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		if existsErr := conn.QueryRowContext(ctx, `SELECT 1 FROM cancellation_requests WHERE id = ?`, request.ID).Scan(&exists); existsErr != nil {
			return domain.CancellationRequest{}, wrapError("sqlite.cancellations.update", existsErr)
		}
		return domain.CancellationRequest{}, repositories.NewStoreError("sqlite.cancellations.update", repositories.ErrorKindConflict, errors.New("request already decided"))
	}
	if err != nil {
		return domain.CancellationRequest{}, wrapError("sqlite.cancellations.update", err)
	}
	return saved, nil
}

func scanRequest(scanner rowScanner) (domain.CancellationRequest, error) {
	var (
		request              domain.CancellationRequest
		kind, status         string
		createdAt, updatedAt int64
		decidedAt            sql.NullInt64
	)
	if err := scanner.Scan(
		&request.ID, &request.OrderID, &request.UserID, &kind, &request.Reason, &status,
		&request.AdminResponse, &request.DecidedBy, &createdAt, &updatedAt, &decidedAt,
	); err != nil {
		return domain.CancellationRequest{}, err
	}
	request.Type = domain.CancellationType(kind)
	request.Status = domain.CancellationStatus(status)
	request.CreatedAt = decodeTime(createdAt)
	request.UpdatedAt = decodeTime(updatedAt)
	request.DecidedAt = nullableTimePtr(decidedAt)
	return request, nil
}
