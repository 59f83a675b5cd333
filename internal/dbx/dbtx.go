// Package dbx provides tiny DB abstractions shared by the local store and the
// SQL remote adapter: a minimal interface (DBTX) implemented by both *sql.DB
// and *sql.Tx, a helper to run functions inside a transaction, and a
// rows-affected check.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of database/sql used by our repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Compound local mutations (a cascaded soft-delete of an estimate with its
// items and photos, a row write together with its queue entry) must go
// through WithTx so they commit atomically or not at all:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := rows.NewSQLiteRepository(tx).Upsert(ctx, table, row); err != nil {
//	        return err
//	    }
//	    _, err := queue.NewSQLiteRepository(tx).Enqueue(ctx, change)
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// ExpectAffected returns an error unless res reports exactly want affected rows.
// notFound is returned (unwrapped) when no rows were affected.
func ExpectAffected(res sql.Result, want int64, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 && notFound != nil {
		return notFound
	}
	if n != want {
		return fmt.Errorf("wrong rows affected count: %d", n)
	}
	return nil
}
