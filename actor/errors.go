package actor

import "github.com/pkg/errors"

// Usage errors: programmer faults (spec.md §7.1). These are reported
// immediately and are not expected to be recovered from.
var (
	// ErrWrongGoroutine is panicked when a selective operation (receive,
	// react, exit, !?) is invoked from a goroutine that does not own the
	// actor.
	ErrWrongGoroutine = errors.New("actor: selective operation invoked outside the owning actor's goroutine")

	// ErrUnhandledTimeout is surfaced when receiveWithin elapses and the
	// handler has no case defined for TIMEOUT.
	ErrUnhandledTimeout = errors.New("actor: unhandled timeout")

	// ErrActorExited is panicked by Ask/AskWithin when the target has
	// already run its exit protocol: such a request would otherwise block
	// forever waiting for a reply that will never arrive.
	ErrActorExited = errors.New("actor: actor has exited")

	// ErrNoSession is panicked by Reply when the session stack is empty,
	// i.e. called outside any handler invocation. Sender returns nil in
	// that case instead.
	ErrNoSession = errors.New("actor: reply/sender called outside a message handler")
)

// ExitError wraps a non-normal exit reason so it can travel through Go's
// error-returning conventions (e.g. from a reaction dispatcher) while still
// carrying the plain-string reason the link protocol expects.
type ExitError struct {
	Reason string
}

func (e *ExitError) Error() string { return "actor: exit: " + e.Reason }

// NewExitError builds an ExitError, wrapping cause for additional context
// when a handler panics or returns an error rather than calling exit
// explicitly.
func NewExitError(reason string, cause error) *ExitError {
	if cause != nil {
		return &ExitError{Reason: errors.Wrapf(cause, "%s", reason).Error()}
	}
	return &ExitError{Reason: reason}
}
