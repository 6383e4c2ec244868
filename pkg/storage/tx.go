package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a scoped transaction handle: on normal return from the function
// passed to WithTx it commits, on any error it rolls back and the error
// propagates to the caller (spec §4.1).
type Tx struct {
	raw *sql.Tx
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.raw.ExecContext(ctx, query, args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.raw.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.raw.QueryRowContext(ctx, query, args...)
}

type txKey struct{}

// WithTx runs fn inside a transaction. A call made while ctx already
// carries an ambient transaction (a nested call) reuses it rather than
// opening a new one, per spec §4.1, so every statement issued through the
// Tx runs inside that one transaction. Reads made directly on the pool do
// not go through WithTx.
func (p *Pool) WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok {
		return fn(ctx, tx)
	}

	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	rawTx, err := conn.Raw().BeginTx(ctx, nil)
	if err != nil {
		p.monitor.recordFailure()
		return fmt.Errorf("begin transaction: %w", err)
	}

	tx := &Tx{raw: rawTx}
	nestedCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if r := recover(); r != nil {
			_ = rawTx.Rollback()
			p.monitor.recordRollback()
			panic(r)
		}
	}()

	if err := fn(nestedCtx, tx); err != nil {
		if rbErr := rawTx.Rollback(); rbErr != nil {
			p.monitor.recordFailure()
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		p.monitor.recordRollback()
		return err
	}

	if err := rawTx.Commit(); err != nil {
		p.monitor.recordFailure()
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
