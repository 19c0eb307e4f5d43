package scanning

import (
	"errors"
	"fmt"
)

// ErrUnsupportedEngine indicates a database scan named an engine kind the
// connection abstraction does not support.
var ErrUnsupportedEngine = errors.New("unsupported database engine")

// ErrBatchNotFound indicates a history lookup named a batch that does not
// exist or has no results of the requested kind.
var ErrBatchNotFound = errors.New("batch not found")

// ConnectionError wraps a failure to establish or query a database or
// classifier connection. It escalates a session to Failed because no partial
// result is possible without a connection.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NewConnectionError wraps err with the target it failed against.
func NewConnectionError(target string, err error) *ConnectionError {
	return &ConnectionError{Target: target, Err: err}
}
