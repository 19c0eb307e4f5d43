package scanning

import "fmt"

// SessionStatus represents the current state of a scan session. It tracks
// the session lifecycle from submission through its terminal frame.
type SessionStatus string

const (
	// SessionStatusCreated indicates a session has been accepted but
	// dispatch has not started.
	SessionStatusCreated SessionStatus = "CREATED"

	// SessionStatusDispatching indicates work items are being dispatched
	// to classifiers and result groups are being streamed.
	SessionStatusDispatching SessionStatus = "DISPATCHING"

	// SessionStatusCompleted indicates the done terminal frame was sent.
	SessionStatusCompleted SessionStatus = "COMPLETED"

	// SessionStatusFailed indicates the session ended with an error
	// terminal frame.
	SessionStatusFailed SessionStatus = "FAILED"
)

func (s SessionStatus) String() string { return string(s) }

// ValidateTransition checks if a status transition is valid and returns an
// error if not.
func (s SessionStatus) ValidateTransition(target SessionStatus) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid session status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the session lifecycle rules.
func (s SessionStatus) isValidTransition(target SessionStatus) bool {
	switch s {
	case SessionStatusCreated:
		return target == SessionStatusDispatching || target == SessionStatusFailed
	case SessionStatusDispatching:
		return target == SessionStatusCompleted || target == SessionStatusFailed
	case SessionStatusCompleted, SessionStatusFailed:
		// Terminal states.
		return false
	default:
		return false
	}
}
