package txman

import "context"

// recordKey is the private context key for the active transaction.
type recordKey struct{}

// WithTransaction returns a context carrying rec as the active
// transaction. Everything derived from the returned context, including
// goroutines it is handed to, observes the same record.
func WithTransaction(ctx context.Context, rec *Record) context.Context {
	return context.WithValue(ctx, recordKey{}, rec)
}

// FromContext returns the active transaction record bound to ctx.
// Returns false if no surrounding Run call has bound one.
func FromContext(ctx context.Context) (*Record, bool) {
	rec, ok := ctx.Value(recordKey{}).(*Record)
	return rec, ok
}

// IsInTransaction reports whether ctx carries an active transaction.
func IsInTransaction(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// CurrentTransaction returns the active transaction record, or nil when
// no transaction is active.
func CurrentTransaction(ctx context.Context) *Record {
	rec, _ := FromContext(ctx)
	return rec
}
