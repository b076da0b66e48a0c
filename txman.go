// Package txman provides context-propagated database transaction
// management. A unit of work marked transactional runs inside a
// transaction that is opened when the outermost call begins, shared by
// every nested call on the same context, and committed or rolled back
// exactly once based on the outcome. Optional bounded retry re-runs the
// unit of work in a fresh transaction after a rollback.
//
// The ambient transaction travels through context.Context, so nested
// calls and goroutines spawned with the same context observe the same
// transaction without parameter threading, while unrelated concurrent
// work never does.
package txman

import (
	"context"
	"database/sql"
)

// Tx represents an open database transaction.
// All operations within it succeed together on Commit or are undone by
// Rollback. *sql.Tx satisfies this interface directly.
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner opens transactions on named connections. It is the single
// primitive txman consumes from the data layer; conn.Registry is the
// stock implementation.
type Beginner interface {
	// BeginTx starts a new transaction on the named connection.
	// An empty name selects the default connection.
	BeginTx(ctx context.Context, connection string, opts *sql.TxOptions) (Tx, error)
}

// Transactional wraps fn so every invocation runs under m with the
// given options. Callers of the wrapped function need not change:
// when the incoming context already carries a transaction the wrapped
// call reuses it, otherwise it opens its own.
func Transactional[T any](m *Manager, fn func(context.Context) (T, error), opts *Options) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return RunValue(ctx, m, fn, opts)
	}
}

// RunValue executes fn inside a transaction and returns its result.
// It has the same lifecycle semantics as Manager.Run.
func RunValue[T any](ctx context.Context, m *Manager, fn func(context.Context) (T, error), opts *Options) (T, error) {
	var out T
	err := m.Run(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
