package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// Tx wraps a Firestore transaction so that repositories can read through it immediately while
// their writes are deferred until the transaction function returns. Firestore rejects reads
// issued after a write in the same transaction; deferring writes lets several repositories
// take part in one transaction.
type Tx struct {
	tx     *firestore.Transaction
	writes []func(*firestore.Transaction) error
}

// Get reads a document inside the transaction.
func (t *Tx) Get(ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	return t.tx.Get(ref)
}

// Documents runs a query inside the transaction.
func (t *Tx) Documents(q firestore.Queryer) *firestore.DocumentIterator {
	return t.tx.Documents(q)
}

// Defer queues a write applied when the transaction function completes successfully.
func (t *Tx) Defer(write func(*firestore.Transaction) error) {
	t.writes = append(t.writes, write)
}

func (t *Tx) flush() error {
	for _, write := range t.writes {
		if err := write(t.tx); err != nil {
			return err
		}
	}
	return nil
}

// TxFromContext returns the transaction joined by ctx, if any.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok && tx != nil
}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunInTx executes fn inside a Firestore transaction. When ctx already carries a transaction fn
// joins it. fn may be invoked more than once when Firestore retries on contention.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	err = client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		state := &Tx{tx: tx}
		if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
			return err
		}
		return state.flush()
	}, firestore.MaxAttempts(cfg.attempts))
	if _, isStatus := status.FromError(err); err != nil && !isStatus {
		// errors produced by fn keep their identity
		return err
	}
	return WrapError("transaction", err)
}
