package txman

import "context"

// WithSavepoint runs fn inside the active transaction. Savepoints are
// not implemented: fn gets no partial-rollback isolation, so the call
// is equivalent to invoking fn directly. Calling it outside a
// transaction is a programmer error and returns ErrNoTransaction
// without invoking fn.
//
// TODO: issue real SAVEPOINT/ROLLBACK TO statements once the conn
// registry exposes driver capability detection.
func (m *Manager) WithSavepoint(ctx context.Context, name string, fn func(context.Context) error) error {
	rec, ok := FromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	m.log.Warn("savepoints are not implemented, running without savepoint isolation",
		"savepoint", name,
		"txn_id", rec.ID(),
	)
	return fn(ctx)
}
