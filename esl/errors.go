package esl

import (
	"errors"
	"fmt"
)

// Transaction and lifecycle errors.
var (
	// ErrTimeout means no correlated reply arrived within the response
	// timeout. The connection stays usable.
	ErrTimeout = errors.New("esl: response timeout")

	// ErrCancelled means the connection was disposed or the peer
	// disconnected while the operation was pending.
	ErrCancelled = errors.New("esl: cancelled")

	// ErrDisposed means the operation was attempted on a dead connection.
	ErrDisposed = errors.New("esl: connection disposed")

	// ErrNotConnected means no socket is attached yet.
	ErrNotConnected = errors.New("esl: not connected")

	// ErrDisconnected means the peer sent a disconnect notice.
	ErrDisconnected = errors.New("esl: peer disconnected")
)

// ProtocolError is a framing violation the parser cannot recover from, such
// as a non-numeric Content-Length. It is fatal to the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "esl: protocol violation: " + e.Reason
}

// InboundReason classifies why an inbound handshake failed.
type InboundReason int

const (
	ReasonTimeout InboundReason = iota
	ReasonInvalidPassword
	ReasonTransportError
)

func (r InboundReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonInvalidPassword:
		return "invalid password"
	case ReasonTransportError:
		return "transport error"
	default:
		return "unknown"
	}
}

// InboundConnectionError is returned by Dial when the connect/auth handshake
// fails. The underlying cause, if any, is preserved for errors.Is/As.
type InboundConnectionError struct {
	Reason   InboundReason
	Message  string
	Endpoint string
	Err      error
}

func (e *InboundConnectionError) Error() string {
	s := fmt.Sprintf("esl: inbound connection to %s failed: %s", e.Endpoint, e.Reason)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *InboundConnectionError) Unwrap() error {
	return e.Err
}
