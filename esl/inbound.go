package esl

import (
	"context"
	"net"
	"time"
)

// InboundOptions configures the inbound handshake.
type InboundOptions struct {
	// AuthTimeout bounds the TCP dial and the wait for the auth/request.
	// Zero means DefaultResponseTimeout.
	AuthTimeout time.Duration

	Connection ConnectionOptions
}

// Dial connects to a FreeSWITCH event socket and authenticates.
func Dial(addr, password string, timeout time.Duration) (*Connection, error) {
	return DialWithOptions(addr, password, InboundOptions{AuthTimeout: timeout})
}

// DialWithOptions is Dial with full connection configuration. Any handshake
// failure is reported as *InboundConnectionError with the cause preserved.
func DialWithOptions(addr, password string, opts InboundOptions) (*Connection, error) {
	timeout := opts.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}

	sock, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &InboundConnectionError{Reason: ReasonTransportError, Endpoint: addr, Err: err}
	}

	c := NewConnection(sock, opts.Connection)

	// FreeSWITCH opens with auth/request; nothing may be sent before it.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.auth:
	case <-timer.C:
		c.Dispose()
		return nil, &InboundConnectionError{Reason: ReasonTimeout, Endpoint: addr, Err: ErrTimeout}
	case <-c.Done():
		c.Dispose()
		return nil, &InboundConnectionError{Reason: ReasonTransportError, Endpoint: addr, Err: ErrCancelled}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	reply, err := c.SendCommand(ctx, "auth "+password)
	if err != nil {
		c.Dispose()
		return nil, &InboundConnectionError{Reason: ReasonTransportError, Endpoint: addr, Err: err}
	}
	if !reply.Success() {
		c.Dispose()
		return nil, &InboundConnectionError{
			Reason:   ReasonInvalidPassword,
			Message:  reply.ErrMessage(),
			Endpoint: addr,
		}
	}
	c.logger.Debug("authenticated", "endpoint", addr)
	return c, nil
}
