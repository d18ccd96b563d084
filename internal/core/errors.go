package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamClosed is reported when the server ends a watch stream that
	// we did not stop ourselves.
	ErrStreamClosed = errors.New("watch stream closed by server")

	// ErrStreamExpired is reported when the server ends a healthy stream
	// without an error, normally once the requested timeout has elapsed.
	// The connection reopens it at once.
	ErrStreamExpired = errors.New("watch stream expired")

	// ErrIdleTimeout is reported when no notification arrived within the
	// configured idle window.
	ErrIdleTimeout = errors.New("watch stream idle timeout")

	// ErrConnectionClosed is returned by Start after Shutdown.
	ErrConnectionClosed = errors.New("watch connection is shut down")

	// ErrAlreadyStarted is returned by Start while a session is running.
	ErrAlreadyStarted = errors.New("watch connection already started")
)

// ErrInvalidInput indicates a domain-level input validation failure.
type ErrInvalidInput struct {
	Field   string
	Message string
}

func (e *ErrInvalidInput) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// TransportError wraps a failure reported by the watch source. Permanent
// errors are never retried by the reconnection policy.
type TransportError struct {
	Op        string
	Permanent bool
	Cause     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsPermanent reports whether err, or anything it wraps, is a permanent
// transport error.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}

// TerminalError is the fault that ends a session: either Last is a
// permanent error or the reconnection policy refused another attempt.
type TerminalError struct {
	Collection Collection
	Attempts   int
	Last       error
}

func (e *TerminalError) Error() string {
	if IsPermanent(e.Last) {
		return fmt.Sprintf("watch %s: permanent error: %v", e.Collection, e.Last)
	}
	return fmt.Sprintf("watch %s: giving up after %d attempts: %v", e.Collection, e.Attempts, e.Last)
}

func (e *TerminalError) Unwrap() error {
	return e.Last
}

// MalformedError describes why a notification could not be classified.
type MalformedError struct {
	Type   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s notification: %s", e.Type, e.Reason)
}
