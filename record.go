package txman

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record describes one live transaction. The handle is owned by the
// Manager call that opened it; nested callers only read it.
type Record struct {
	id         string
	connection string
	startedAt  time.Time
	opts       Options
	tx         Tx
}

func newRecord(tx Tx, connection string, opts Options) *Record {
	return &Record{
		id:         uuid.NewString(),
		connection: connection,
		startedAt:  time.Now(),
		opts:       opts,
		tx:         tx,
	}
}

// ID returns the identifier assigned when the transaction was opened.
// Identifiers are unique within the process lifetime.
func (r *Record) ID() string { return r.id }

// Connection returns the name of the connection the transaction was
// opened on. Empty means the default connection.
func (r *Record) Connection() string { return r.connection }

// StartedAt returns when the transaction was opened.
func (r *Record) StartedAt() time.Time { return r.startedAt }

// Elapsed returns how long the transaction has been open.
func (r *Record) Elapsed() time.Duration { return time.Since(r.startedAt) }

// Options returns the options the transaction was opened with.
func (r *Record) Options() Options { return r.opts }

// Tx returns the live transaction handle.
func (r *Record) Tx() Tx { return r.tx }

// Stats is a point-in-time snapshot of an active transaction.
type Stats struct {
	ID         string
	Connection string
	StartedAt  time.Time
	Elapsed    time.Duration
}

// StatsFromContext returns a snapshot of the transaction carried by
// ctx. The second return is false when no transaction is active.
func StatsFromContext(ctx context.Context) (Stats, bool) {
	rec, ok := FromContext(ctx)
	if !ok {
		return Stats{}, false
	}
	return Stats{
		ID:         rec.ID(),
		Connection: rec.Connection(),
		StartedAt:  rec.StartedAt(),
		Elapsed:    rec.Elapsed(),
	}, true
}
