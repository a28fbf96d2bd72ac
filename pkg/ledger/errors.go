package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrLedgerUnavailable marks a failed read or event query. It is transient: the
	// next refresh retries.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrTransactionRejected marks a write that the signer, node or contract refused.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrSubscriptionChurn marks a failure to (re)establish an event filter.
	ErrSubscriptionChurn = errors.New("subscription churn")
	// ErrNoSigner is returned by write calls on a read-only gateway.
	ErrNoSigner = errors.New("no signer configured")
)

// RejectedError carries the reason a write was refused, verbatim.
type RejectedError struct {
	Action string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrTransactionRejected, e.Action, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrTransactionRejected
}

// Rejected wraps err as a RejectedError for action.
func Rejected(action string, err error) error {
	if err == nil {
		return nil
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return err
	}
	return &RejectedError{Action: action, Reason: err.Error()}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrLedgerUnavailable, err)
}
