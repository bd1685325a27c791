package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Flying-Banana-Productions/5x-engineer-sub000/internal/protocol"
)

// TimeoutError reports an invocation that exceeded its configured timeout.
// It is distinct from external cancellation.
type TimeoutError struct {
	Role    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s invocation timed out after %s", e.Role, e.Timeout)
}

// OutputError reports an invocation that produced no parseable structured
// output or an output violating its schema.
type OutputError struct {
	Role string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%s produced invalid structured output: %v", e.Role, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// SessionError reports a session-creation failure.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("agent session: %v", e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is an adapter timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsCanceled reports whether err stems from external cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsInvariantViolation reports whether err is a protocol invariant violation
// on an otherwise parseable output.
func IsInvariantViolation(err error) bool {
	var ie *protocol.InvariantError
	return errors.As(err, &ie)
}
