package traffic

import "fmt"

// ShiftAbortedError reports a shift that stopped before completion,
// carrying whether the rollback to the old environment succeeded. The
// original failure is never masked by a rollback failure.
type ShiftAbortedError struct {
	Reason            string
	RollbackPerformed bool
	Err               error
}

// Error implements the error interface
func (e *ShiftAbortedError) Error() string {
	msg := fmt.Sprintf("traffic shift aborted: %s", e.Reason)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if !e.RollbackPerformed {
		msg += " (rollback not performed)"
	}
	return msg
}

// Unwrap exposes the underlying error.
func (e *ShiftAbortedError) Unwrap() error {
	return e.Err
}
