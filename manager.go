package txman

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/altuslabsxyz/txman/observability"
)

const tracerName = "github.com/altuslabsxyz/txman"

// Manager owns the transaction lifecycle. The outermost Run call opens
// a transaction, binds it into the context for everything the unit of
// work does, and issues exactly one commit or rollback. Nested Run
// calls on the same context reuse the bound transaction instead of
// opening their own.
type Manager struct {
	db      Beginner
	log     Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// NewManager creates a Manager over db. logger may be nil to disable
// logging; metrics may be nil to disable instrumentation.
func NewManager(db Beginner, logger Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = NopLogger
	}
	return &Manager{
		db:      db,
		log:     logger,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Run executes fn inside a transaction.
//
// If ctx already carries a transaction, fn runs against it directly and
// the outer call keeps sole responsibility for commit and rollback.
// Otherwise Run opens a transaction per opts, commits when fn returns
// nil, and rolls back when it does not. With retry configured, each
// failed attempt is followed by a delay and an entirely new
// transaction; once the budget is exhausted the last attempt's failure
// is surfaced unchanged. Commit failures are reported as *TxError and
// are not retried.
func (m *Manager) Run(ctx context.Context, fn func(context.Context) error, opts *Options) error {
	o := opts.normalized()

	if rec, ok := FromContext(ctx); ok {
		if o.Debug {
			m.log.Debug("reusing active transaction",
				"txn_id", rec.ID(),
				"connection", rec.Connection(),
			)
		}
		return fn(ctx)
	}

	budget := 0
	if o.Retry != nil {
		budget = o.Retry.Attempts
	}

	for attempt := 0; ; attempt++ {
		err, retryable := m.runOnce(ctx, fn, o, attempt)
		if err == nil || !retryable || attempt >= budget {
			return err
		}

		if o.Debug {
			m.log.Debug("retrying transaction",
				"connection", o.Connection,
				"attempt", attempt+1,
				"remaining", budget-attempt-1,
				"delay", o.Retry.Delay,
			)
		}
		m.metrics.RecordRetry(ctx, o.Connection)

		timer := time.NewTimer(o.Retry.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}

// runOnce performs a single open/execute/commit-or-rollback pass. The
// second return reports whether a retry may follow the failure.
func (m *Manager) runOnce(ctx context.Context, fn func(context.Context) error, o Options, attempt int) (error, bool) {
	ctx, span := m.tracer.Start(ctx, "txman.Run", trace.WithAttributes(
		attribute.String("txman.connection", o.Connection),
		attribute.Int("txman.attempt", attempt),
	))
	defer span.End()

	tx, err := m.db.BeginTx(ctx, o.Connection, &sql.TxOptions{Isolation: o.Isolation})
	if err != nil {
		span.RecordError(err)
		return &TxError{Kind: KindBegin, Connection: o.Connection, Cause: err}, true
	}

	rec := newRecord(tx, o.Connection, o)
	span.SetAttributes(attribute.String("txman.id", rec.ID()))

	if o.Debug {
		m.log.Debug("transaction started",
			"txn_id", rec.ID(),
			"connection", o.Connection,
			"isolation", o.Isolation.String(),
			"attempt", attempt,
		)
	}

	if err := m.execute(WithTransaction(ctx, rec), rec, fn); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			// The unit of work's own failure stays the one the caller
			// sees; the rollback failure is only logged.
			m.log.Error("rollback failed",
				"txn_id", rec.ID(),
				"connection", o.Connection,
				"error", rbErr,
			)
		}
		if o.Debug {
			m.log.Debug("transaction rolled back",
				"txn_id", rec.ID(),
				"elapsed", rec.Elapsed(),
				"error", err,
			)
		}
		span.AddEvent("rollback")
		span.RecordError(err)
		m.metrics.RecordTransaction(ctx, o.Connection, observability.OutcomeRollback, rec.Elapsed())
		return err, true
	}

	if err := tx.Commit(); err != nil {
		span.AddEvent("commit failed")
		span.RecordError(err)
		m.metrics.RecordTransaction(ctx, o.Connection, observability.OutcomeCommitFailed, rec.Elapsed())
		return &TxError{Kind: KindCommit, Connection: o.Connection, Cause: err}, false
	}

	if o.Debug {
		m.log.Debug("transaction committed",
			"txn_id", rec.ID(),
			"elapsed", rec.Elapsed(),
		)
	}
	span.AddEvent("commit")
	m.metrics.RecordTransaction(ctx, o.Connection, observability.OutcomeCommit, rec.Elapsed())
	return nil, false
}

// execute runs fn, converting a panic into a rollback before
// re-panicking.
func (m *Manager) execute(ctx context.Context, rec *Record, fn func(context.Context) error) error {
	defer func() {
		if p := recover(); p != nil {
			if rbErr := rec.Tx().Rollback(); rbErr != nil {
				m.log.Error("rollback after panic failed",
					"txn_id", rec.ID(),
					"error", rbErr,
				)
			}
			panic(p)
		}
	}()
	return fn(ctx)
}
