package tx

import (
	"context"
	"database/sql"
	"sync"
	"time"

	dErrors "spendwise/pkg/domain-errors"
)

type ctxKey struct{}

type journalKey struct{}

var txKey = ctxKey{}

const defaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok && tx != nil
}

// Detach returns a context that keeps ctx's values but carries no transaction
// and no cancellation. Writes made with it commit independently of the caller.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(context.WithoutCancel(ctx), txKey, (*sql.Tx)(nil))
	return context.WithValue(ctx, journalKey{}, (*journal)(nil))
}

// Active reports whether ctx carries a SQL transaction or a journal.
func Active(ctx context.Context) bool {
	if _, ok := From(ctx); ok {
		return true
	}
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j != nil
}

// Executor is satisfied by *sql.DB and *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Execer returns the transaction in ctx, or db when none is active.
func Execer(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

// Runner opens a transaction, exposes it through the context and commits when
// fn returns nil. Nested calls reuse the outer transaction.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, timeout: defaultTimeout}
}

func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// journal holds undo steps recorded by in-memory stores.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) rollback() {
	j.mu.Lock()
	steps := j.undo
	j.undo = nil
	j.mu.Unlock()
	for i := len(steps) - 1; i >= 0; i-- {
		steps[i]()
	}
}

// OnRollback records undo for a write made under ctx. Outside a
// JournalRunner transaction it does nothing and the write stands.
func OnRollback(ctx context.Context, undo func()) {
	j, _ := ctx.Value(journalKey{}).(*journal)
	if j == nil {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, undo)
	j.mu.Unlock()
}

// JournalRunner is the transaction runner for in-memory stores. Stores
// record an undo step per write with OnRollback; when fn fails the steps run
// newest first. Nested calls join the outer journal.
type JournalRunner struct{}

func (JournalRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if j, _ := ctx.Value(journalKey{}).(*journal); j != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}
