package esl

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/exp/slog"
)

// ConnectionOptions configures a single connection.
type ConnectionOptions struct {
	// ResponseTimeout bounds each command transaction. Zero means
	// DefaultResponseTimeout.
	ResponseTimeout time.Duration

	// Logger for wire traffic and lifecycle. Nil gets a text handler on
	// stdout.
	Logger *slog.Logger
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return o
}

// Connection is one ESL connection, inbound or outbound. It owns the socket,
// the framer, the command gate, and the subscription sets. All methods are
// safe for concurrent use.
type Connection struct {
	transport *transport
	logger    *slog.Logger

	responseTimeout time.Duration

	gate    chan struct{}
	replies chan *Message
	auth    chan *Message
	notices chan *Message

	messages      *stream[*Message]
	events        *stream[*EventMessage]
	channelEvents *stream[*EventMessage]

	subscriptions subscriptionSet
}

// NewConnection adopts an established socket, typically one FreeSWITCH
// opened toward an outbound listener. The read loop starts immediately.
func NewConnection(conn net.Conn, opts ConnectionOptions) *Connection {
	opts = opts.withDefaults()
	c := &Connection{
		logger:          opts.Logger,
		responseTimeout: opts.ResponseTimeout,
		gate:            make(chan struct{}, 1),
		replies:         make(chan *Message, 4),
		auth:            make(chan *Message, 1),
		notices:         make(chan *Message, 1),
		messages:        newStream[*Message](),
		events:          newStream[*EventMessage](),
		channelEvents:   newStream[*EventMessage](),
	}
	c.transport = newTransport(conn, c.logger)
	c.subscriptions.init()
	go c.readLoop()
	return c
}

// Messages subscribes to every framed message on the connection. The stream
// is hot: no replay for late subscribers.
func (c *Connection) Messages() *Subscription[*Message] {
	return c.messages.subscribe()
}

// Events subscribes to the text/event-plain stream.
func (c *Connection) Events() *Subscription[*EventMessage] {
	return c.events.subscribe()
}

// ChannelEvents subscribes to events carrying a Unique-ID.
func (c *Connection) ChannelEvents() *Subscription[*EventMessage] {
	return c.channelEvents.subscribe()
}

// Done closes when the connection is disposed, for any reason.
func (c *Connection) Done() <-chan struct{} {
	return c.transport.Disposed()
}

// Dispose tears the connection down: the socket closes, pending transactions
// fail with ErrCancelled, and the message streams complete. Idempotent.
func (c *Connection) Dispose() {
	c.transport.dispose()
}

func (c *Connection) isDisposed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.transport.remoteAddr()
}

// readLoop drives the framer over the transport's chunk stream and fans the
// framed messages out. It is the only goroutine touching the parser.
func (c *Connection) readLoop() {
	p := newParser()
	for chunk := range c.transport.receive() {
		for _, b := range chunk {
			if err := p.feed(b); err != nil {
				c.logger.Error("message receiver fatal", "error", err)
				c.Dispose()
				c.closeStreams(err)
				return
			}
			if p.complete() {
				msg := p.extract()
				p = newParser()
				c.dispatch(msg)
			}
		}
	}
	err := c.transport.readError()
	if err != nil {
		c.logger.Error("message receiver fatal", "error", err)
		err = fmt.Errorf("esl: message receiver: %w", err)
	}
	c.Dispose()
	c.closeStreams(err)
}

func (c *Connection) closeStreams(err error) {
	c.messages.close(err)
	c.events.close(err)
	c.channelEvents.close(err)
}

// dispatch routes one framed message: every message goes to the broadcast
// stream, replies and auth requests additionally feed the pipeline, events
// are lifted into typed views. Unknown content types pass through as opaque
// frames.
func (c *Connection) dispatch(msg *Message) {
	c.messages.publish(msg)
	switch msg.ContentType() {
	case ContentTypeAuthRequest:
		select {
		case c.auth <- msg:
		default:
		}
	case ContentTypeCommandReply, ContentTypeAPIResponse:
		select {
		case c.replies <- msg:
		default:
			c.logger.Warn("dropping unsolicited reply", "content-type", msg.ContentType())
		}
	case ContentTypeEventPlain:
		ev := parseEventMessage(msg)
		c.events.publish(ev)
		if ev.ChannelUUID() != "" {
			c.channelEvents.publish(ev)
		}
	case ContentTypeDisconnectNotice:
		c.logger.Debug("disconnect notice", "body", msg.BodyString())
		select {
		case c.notices <- msg:
		default:
		}
		c.Dispose()
	}
}
