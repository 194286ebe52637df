// ABOUTME: Error taxonomy for the gateway engine
// ABOUTME: Kind sentinels plus a wrapper carrying the phase and operation at failure time

package gateway

import (
	"errors"
	"fmt"
)

// Error kind sentinels. Match with errors.Is against a wrapped *EngineError.
var (
	// ErrNetwork covers connect/read/write failures. Retried with backoff,
	// never fatal by itself.
	ErrNetwork = errors.New("network error")

	// ErrProtocol covers malformed frames, out-of-order sequences, and
	// unexpected tags for the current phase. The connection is reset and
	// retried.
	ErrProtocol = errors.New("protocol error")

	// ErrAuth is a rejected identify that is not a transient condition.
	// Fatal: the supervisor stops retrying.
	ErrAuth = errors.New("authentication rejected")

	// ErrPersistence marks a failed store call. Logged only; the engine
	// continues with memory-only session tracking.
	ErrPersistence = errors.New("persistence error")
)

// EngineError wraps a failure with the connection phase and the operation in
// flight when it happened, so races can be diagnosed without reproduction.
type EngineError struct {
	Kind  error // one of the sentinels above
	Phase Phase
	Op    string
	Err   error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s: %s", e.Op, e.Phase, e.Kind)
	}
	return fmt.Sprintf("%s during %s: %s: %v", e.Op, e.Phase, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause to
// errors.Is/errors.As.
func (e *EngineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// engineErr builds an EngineError. Err may be nil when the kind and operation
// say everything.
func engineErr(kind error, phase Phase, op string, err error) *EngineError {
	return &EngineError{Kind: kind, Phase: phase, Op: op, Err: err}
}
