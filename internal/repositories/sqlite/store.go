// Package sqlite implements the repository contracts on SQLite for self-hosted deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hanko-field/orders/internal/repositories"
)

type txKey struct{}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wires SQLite-backed repository implementations.
type Store struct {
	db       *sql.DB
	orders   *orderRepo
	requests *cancellationRepo
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// Open ensures the parent directory exists, then opens a SQLite connection with WAL and a busy timeout.
// Transactions begin IMMEDIATE so a writer waits for the lock instead of failing on a stale snapshot.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// NewStore constructs a SQLite-backed registry. The schema must already be migrated.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite: db is required")
	}
	store := &Store{db: db}
	store.orders = &orderRepo{store: store}
	store.requests = &cancellationRepo{store: store}
	health, err := repositories.NewProbeHealthRepository([]repositories.Probe{{
		Name:  "sqlite",
		Check: db.PingContext,
	}})
	if err != nil {
		return nil, err
	}
	store.health = health
	return store, nil
}

func (s *Store) Orders() repositories.OrderRepository { return s.orders }

func (s *Store) CancellationRequests() repositories.CancellationRequestRepository {
	return s.requests
}

func (s *Store) Health() repositories.HealthRepository { return s.health }

// Close releases the underlying database handle.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// RunInTx executes fn inside a database transaction. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("sqlite: transaction function is required")
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("sqlite.tx.begin", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError("sqlite.tx.commit", err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// wrapError classifies SQLite failures into repository semantics. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.NewStoreError(op, repositories.ErrorKindNotFound, err)
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			return repositories.NewStoreError(op, repositories.ErrorKindConflict, err)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return repositories.NewStoreError(op, repositories.ErrorKindUnavailable, err)
		}
	}
	return repositories.NewStoreError(op, repositories.ErrorKindUnknown, err)
}
