package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation marks a message that is not valid in the
	// receiver's current state.
	ErrProtocolViolation = errors.New("transfer: protocol violation")
	// ErrInvalidState is returned when an operation is called out of order.
	ErrInvalidState = errors.New("transfer: invalid state")
	// ErrInterrupted is returned by a session stopped before its request
	// arrived.
	ErrInterrupted = errors.New("transfer: session interrupted")
)

// AckPayload is the body of the acknowledgment sent after each file.
const AckPayload = "File received"

// ServerError is a failure the server reported with an Error message.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "transfer: server error: " + e.Message
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// peerError is a session failure the server reports back to the client.
type peerError struct {
	msg string
	err error
}

func (e *peerError) Error() string { return e.err.Error() }
func (e *peerError) Unwrap() error { return e.err }

func reportable(msg string, err error) error {
	return &peerError{msg: msg, err: err}
}
