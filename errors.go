package txman

import (
	"errors"
	"fmt"
)

// ErrNoTransaction is returned when an operation that requires an
// active transaction is called outside one.
var ErrNoTransaction = errors.New("no active transaction")

// Kind classifies a failure of the transaction machinery itself.
type Kind string

const (
	KindBegin    Kind = "begin"
	KindCommit   Kind = "commit"
	KindRollback Kind = "rollback"
)

// TxError reports a failure opening, committing, or rolling back a
// transaction. Unit-of-work failures are never wrapped in TxError; they
// reach the caller unchanged.
type TxError struct {
	Kind       Kind
	Connection string
	Cause      error
}

func (e *TxError) Error() string {
	if e.Connection != "" {
		return fmt.Sprintf("%s transaction on %q: %v", e.Kind, e.Connection, e.Cause)
	}
	return fmt.Sprintf("%s transaction: %v", e.Kind, e.Cause)
}

func (e *TxError) Unwrap() error { return e.Cause }

// IsBeginFailure reports whether err is a failure to open a
// transaction.
func IsBeginFailure(err error) bool { return hasKind(err, KindBegin) }

// IsCommitFailure reports whether err is a failure to commit.
func IsCommitFailure(err error) bool { return hasKind(err, KindCommit) }

func hasKind(err error, k Kind) bool {
	var txErr *TxError
	return errors.As(err, &txErr) && txErr.Kind == k
}
