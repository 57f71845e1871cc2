package loop

import (
	"errors"
	"fmt"
)

// Terminal conditions surfaced to the caller. Everything else the
// loop encounters (conflicts, validation failures, timeouts,
// recoverable execution errors) is absorbed as feedback for the
// next round and never escapes Run.
var (
	// ErrBudgetExhausted means the iteration budget ran out before
	// the test suite passed.
	ErrBudgetExhausted = errors.New("iteration budget exhausted")

	// ErrCancelled means an external cancellation ended the session.
	ErrCancelled = errors.New("session cancelled")
)

// ExecutionError means the test harness could not run the test
// command at all. Recoverable up to a fixed retry count, then the
// session fails.
type ExecutionError struct {
	Attempts int
	Detail   string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("test command could not run after %d attempts: %s", e.Attempts, e.Detail)
}
