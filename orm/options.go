// Package orm is the thin data-access adapter the ambient transaction
// is injected into. Every entry point resolves its executor explicit
// handle first, ambient transaction second, bare connection last, so
// call sites inside a txman.Manager.Run body participate in the
// surrounding transaction without passing it around.
package orm

import (
	"context"
	"database/sql"

	"github.com/altuslabsxyz/txman"
)

// Executor is the subset of database/sql that both *sql.DB and *sql.Tx
// satisfy.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options carries per-call data-access settings.
type Options struct {
	// Tx pins the call to an explicit transaction handle. When set it
	// is never overwritten by the ambient transaction.
	Tx Executor
}

// ApplyAmbient merges the context's active transaction into o unless a
// handle was supplied explicitly. When no transaction is active o is
// returned unchanged.
func ApplyAmbient(ctx context.Context, o Options) Options {
	if o.Tx != nil {
		return o
	}
	if exec := ambient(ctx); exec != nil {
		o.Tx = exec
	}
	return o
}

// ambient returns the executor of the context's active transaction, if
// any.
func ambient(ctx context.Context) Executor {
	rec, ok := txman.FromContext(ctx)
	if !ok {
		return nil
	}
	exec, ok := rec.Tx().(Executor)
	if !ok {
		return nil
	}
	return exec
}
