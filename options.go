package txman

import (
	"database/sql"
	"time"
)

// Retry configures automatic re-execution after a rollback.
type Retry struct {
	// Attempts is the number of additional attempts after the first
	// failure. Zero disables retry.
	Attempts int

	// Delay is the wait before each retry. The wait suspends only the
	// calling goroutine.
	Delay time.Duration
}

// Options configures a single top-level transaction. The zero value
// selects the default connection with the driver's default isolation
// level and no retry.
type Options struct {
	// Connection names the database connection to open the transaction
	// on. Empty selects the default connection.
	Connection string

	// Isolation is forwarded to the transaction open call.
	Isolation sql.IsolationLevel

	// Debug emits identifier-tagged lifecycle log lines
	// (start/reuse/commit/rollback/retry) with elapsed time. Purely
	// observational.
	Debug bool

	// Timeout is advisory metadata only; the manager does not enforce
	// it.
	Timeout time.Duration

	// Retry, when non-nil, re-runs the unit of work in a brand-new
	// transaction after each rollback, up to Attempts times.
	Retry *Retry
}

func (o *Options) normalized() Options {
	if o == nil {
		return Options{}
	}
	out := *o
	if out.Retry != nil && out.Retry.Attempts <= 0 {
		out.Retry = nil
	}
	return out
}
