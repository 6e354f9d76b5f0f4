package transaction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNestedTransaction is returned by Run when ctx already belongs to a running transaction.
	ErrNestedTransaction = errors.New("transaction: nested run is not supported")
	// ErrContextClosed is returned when registering into a context whose transaction has finished.
	ErrContextClosed = errors.New("transaction: context is closed")
	// ErrParticipantClosed is returned by a participant handle accessed after commit or rollback.
	ErrParticipantClosed = errors.New("transaction: participant already committed or rolled back")
	// ErrParticipantType is returned when a resource key is bound to a participant of another backend.
	ErrParticipantType = errors.New("transaction: participant type mismatch")
	// ErrEmptyKey is returned when registering with an empty resource key.
	ErrEmptyKey = errors.New("transaction: empty resource key")
)

// CommitError reports a failed commit sweep. Participants listed in Committed
// had already committed and are not undone.
type CommitError struct {
	Key       string
	Committed []string
	Err       error
}

func (e *CommitError) Error() string {
	if len(e.Committed) == 0 {
		return fmt.Sprintf("transaction: commit %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("transaction: commit %q after committing [%s]: %v",
		e.Key, strings.Join(e.Committed, ", "), e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Partial reports whether some participants committed before the failure.
func (e *CommitError) Partial() bool {
	return len(e.Committed) > 0
}
