package esl

import (
	"context"
	"fmt"
	"time"
)

// The command pipeline admits one transaction at a time through a
// single-slot gate. ESL replies carry no request identifiers, so with
// at-most-one-in-flight the next reply of the matching kind on the stream
// is the reply to the held command. Blocked acquirers queue in channel
// waiter order, which is FIFO.

// SendCommand issues a plain command (auth, event, filter, connect, …) and
// awaits its command/reply.
func (c *Connection) SendCommand(ctx context.Context, command string) (CommandReply, error) {
	msg, err := c.transact(ctx, command, ContentTypeCommandReply)
	if err != nil {
		return CommandReply{}, err
	}
	return CommandReply{msg}, nil
}

// SendAPI issues "api <command>" and awaits its api/response.
func (c *Connection) SendAPI(ctx context.Context, command string) (APIResponse, error) {
	msg, err := c.transact(ctx, "api "+command, ContentTypeAPIResponse)
	if err != nil {
		return APIResponse{}, err
	}
	return APIResponse{msg}, nil
}

func (c *Connection) transact(ctx context.Context, command, replyType string) (*Message, error) {
	if err := c.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer c.releaseGate()

	if err := c.transport.write(command + "\n\n"); err != nil {
		return nil, fmt.Errorf("esl: write failed: %w", err)
	}
	c.logger.Debug("command sent", "command", command)

	return c.awaitReply(ctx, replyType)
}

// awaitReply waits for the next reply of the wanted kind, bounded by the
// response timeout. A timeout fails only the transaction; the socket stays
// open.
func (c *Connection) awaitReply(ctx context.Context, replyType string) (*Message, error) {
	timer := time.NewTimer(c.responseTimeout)
	defer timer.Stop()
	for {
		select {
		case msg := <-c.replies:
			if msg.ContentType() != replyType {
				c.logger.Warn("reply of unexpected kind", "got", msg.ContentType(), "want", replyType)
				continue
			}
			return msg, nil
		case <-timer.C:
			return nil, fmt.Errorf("esl: no reply within %s: %w", c.responseTimeout, ErrTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.Done():
			return nil, ErrCancelled
		}
	}
}

// acquireGate admits one caller for a whole request/response transaction.
func (c *Connection) acquireGate(ctx context.Context) error {
	if c.isDisposed() {
		return ErrDisposed
	}
	select {
	case c.gate <- struct{}{}:
		if c.isDisposed() {
			<-c.gate
			return ErrDisposed
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Done():
		return ErrDisposed
	}
}

func (c *Connection) releaseGate() {
	<-c.gate
}

// Exit sends the exit command. It expects a command/reply followed by a
// text/disconnect-notice; the transaction completes when the notice arrives
// or after a short grace, which counts as success. Exit deliberately ignores
// the connection's cancellation signal: the disconnect it provokes is the
// expected outcome.
func (c *Connection) Exit(ctx context.Context) (CommandReply, error) {
	if c.isDisposed() {
		return CommandReply{}, ErrDisposed
	}
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return CommandReply{}, ctx.Err()
	}
	defer c.releaseGate()

	if err := c.transport.write("exit\n\n"); err != nil {
		return CommandReply{}, fmt.Errorf("esl: write failed: %w", err)
	}

	var reply CommandReply
	timer := time.NewTimer(c.responseTimeout)
	defer timer.Stop()
waitReply:
	for {
		select {
		case msg := <-c.replies:
			if msg.ContentType() != ContentTypeCommandReply {
				continue
			}
			reply = CommandReply{msg}
			break waitReply
		case <-timer.C:
			return CommandReply{}, fmt.Errorf("esl: no exit reply within %s: %w", c.responseTimeout, ErrTimeout)
		case <-c.Done():
			// The peer already tore the socket down; good enough.
			return CommandReply{newMessage()}, nil
		case <-ctx.Done():
			return CommandReply{}, ctx.Err()
		}
	}

	grace := time.NewTimer(disconnectNoticeTimeout)
	defer grace.Stop()
	select {
	case <-c.notices:
	case <-c.Done():
	case <-grace.C:
		c.logger.Debug("no disconnect notice after exit; treating as success")
	}
	return reply, nil
}
