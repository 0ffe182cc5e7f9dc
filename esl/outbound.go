package esl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// OutboundOptions configures an outbound listener.
type OutboundOptions struct {
	Logger     *slog.Logger
	Connection ConnectionOptions
}

// OutboundListener accepts connections FreeSWITCH opens toward us, one per
// call. Accepted sessions appear on Connections; sessions whose channel data
// arrived appear on Channels.
type OutboundListener struct {
	logger *slog.Logger
	opts   ConnectionOptions
	port   int

	mu       sync.Mutex
	ln       net.Listener
	group    *errgroup.Group
	started  bool
	stopped  bool
	disposed bool
	sessions []*OutboundSession

	conns    *stream[*OutboundSession]
	channels *stream[*OutboundSession]
}

// NewOutboundListener prepares a listener on the given port. Port 0 binds an
// ephemeral port, readable from Port after Start.
func NewOutboundListener(port int) *OutboundListener {
	return NewOutboundListenerWithOptions(port, OutboundOptions{})
}

func NewOutboundListenerWithOptions(port int, opts OutboundOptions) *OutboundListener {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &OutboundListener{
		logger:   logger,
		opts:     opts.Connection,
		port:     port,
		conns:    newStream[*OutboundSession](),
		channels: newStream[*OutboundSession](),
	}
}

// Start binds the port and begins accepting. Idempotent while running; after
// Stop it binds again (the port may change if ephemeral).
func (l *OutboundListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return ErrDisposed
	}
	if l.started && !l.stopped {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", l.port))
	if err != nil {
		return err
	}
	l.ln = ln
	l.started = true
	l.stopped = false
	l.group = &errgroup.Group{}
	l.group.Go(func() error {
		l.acceptLoop(ln)
		return nil
	})
	l.logger.Info("outbound listener started", "addr", ln.Addr().String())
	return nil
}

// Stop stops accepting. Sessions already accepted stay alive.
func (l *OutboundListener) Stop() error {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	ln, group := l.ln, l.group
	l.mu.Unlock()
	_ = ln.Close()
	_ = group.Wait()
	return nil
}

// Dispose stops the listener and disposes every session it ever produced.
func (l *OutboundListener) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	ln, group := l.ln, l.group
	running := l.started && !l.stopped
	l.stopped = true
	sessions := make([]*OutboundSession, len(l.sessions))
	copy(sessions, l.sessions)
	l.mu.Unlock()

	if running {
		_ = ln.Close()
		_ = group.Wait()
	}
	for _, s := range sessions {
		s.Dispose()
	}
	l.conns.close(nil)
	l.channels.close(nil)
}

// IsStarted reports started and not stopped and not disposed.
func (l *OutboundListener) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started && !l.stopped && !l.disposed
}

// Port returns the bound port once started, otherwise the configured one.
func (l *OutboundListener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		if addr, ok := l.ln.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return l.port
}

// Connections subscribes to every accepted session.
func (l *OutboundListener) Connections() *Subscription[*OutboundSession] {
	return l.conns.subscribe()
}

// Channels subscribes to sessions whose Connect completed and whose channel
// data arrived. Sessions that disconnect first never appear here.
func (l *OutboundListener) Channels() *Subscription[*OutboundSession] {
	return l.channels.subscribe()
}

// acceptLoop runs until the listener closes. An error on an individual
// accept is logged and skipped; it never terminates the Connections stream.
func (l *OutboundListener) acceptLoop(ln net.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}
		l.logger.Debug("accepted", "remote", sock.RemoteAddr().String())
		s := &OutboundSession{
			Connection: NewConnection(sock, l.opts),
			listener:   l,
		}
		l.mu.Lock()
		if l.disposed {
			l.mu.Unlock()
			s.Dispose()
			return
		}
		l.sessions = append(l.sessions, s)
		l.mu.Unlock()
		l.conns.publish(s)
	}
}

func (l *OutboundListener) publishChannel(s *OutboundSession) {
	l.channels.publish(s)
}

// OutboundSession is one call FreeSWITCH handed to the listener, already
// bound to a channel. Call Connect before anything else.
type OutboundSession struct {
	*Connection
	listener *OutboundListener

	mu          sync.Mutex
	channelData *Message
}

// Connect performs the outbound handshake: it sends the ESL connect command
// and waits for the channel data. Some FreeSWITCH versions carry the channel
// state on the command/reply itself, others as a separate message; any
// framed message whose headers include Channel-Call-UUID satisfies the wait.
// A peer disconnect before then fails with ErrCancelled.
func (s *OutboundSession) Connect(ctx context.Context) error {
	// Both observers are armed before the write so the channel data cannot
	// slip past, whichever shape it arrives in.
	msgSub := s.messages.subscribe()
	defer msgSub.Close()
	evSub := s.events.subscribe()
	defer evSub.Close()

	reply, err := s.SendCommand(ctx, "connect")
	if err != nil {
		if errors.Is(err, ErrDisposed) || errors.Is(err, ErrCancelled) {
			return fmt.Errorf("esl: connect: %w", ErrCancelled)
		}
		return err
	}
	if reply.HasHeader(HeaderChannelCallUUID) {
		s.setChannelData(reply.Message)
		return nil
	}
	for {
		select {
		case msg, ok := <-msgSub.C():
			if !ok {
				return fmt.Errorf("esl: connect: %w", ErrCancelled)
			}
			if msg.HasHeader(HeaderChannelCallUUID) {
				s.setChannelData(msg)
				return nil
			}
		case ev, ok := <-evSub.C():
			if !ok {
				return fmt.Errorf("esl: connect: %w", ErrCancelled)
			}
			if ev.HasHeader(HeaderChannelCallUUID) {
				s.setChannelData(ev.Message)
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *OutboundSession) setChannelData(msg *Message) {
	s.mu.Lock()
	first := s.channelData == nil
	s.channelData = msg
	s.mu.Unlock()
	if first && s.listener != nil {
		s.listener.publishChannel(s)
	}
}

// ChannelData returns the channel state received during Connect, nil before.
func (s *OutboundSession) ChannelData() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelData
}

// ChannelUUID returns the session's channel UUID, "" before Connect.
func (s *OutboundSession) ChannelUUID() string {
	data := s.ChannelData()
	if data == nil {
		return ""
	}
	if id := data.Header(HeaderChannelCallUUID); id != "" {
		return id
	}
	return data.Header(HeaderUniqueID)
}

// Linger asks FreeSWITCH to hold the socket open until the last channel
// event is delivered.
func (s *OutboundSession) Linger(ctx context.Context) error {
	return s.simpleCommand(ctx, "linger")
}

// MyEvents subscribes to every event of this session's channel.
func (s *OutboundSession) MyEvents(ctx context.Context) error {
	return s.simpleCommand(ctx, "myevents "+s.ChannelUUID())
}

// Answer answers the channel.
func (s *OutboundSession) Answer(ctx context.Context) (*EventMessage, error) {
	return s.Execute(ctx, s.ChannelUUID(), "answer", "")
}

// Hangup hangs the channel up with the given cause, e.g. NORMAL_CLEARING.
func (s *OutboundSession) Hangup(ctx context.Context, cause string) (*EventMessage, error) {
	return s.Execute(ctx, s.ChannelUUID(), "hangup", cause)
}

// Set assigns a channel variable.
func (s *OutboundSession) Set(ctx context.Context, name, value string) (*EventMessage, error) {
	return s.Execute(ctx, s.ChannelUUID(), "set", name+"="+value)
}

// Playback plays a file on the channel.
func (s *OutboundSession) Playback(ctx context.Context, file string) (*EventMessage, error) {
	return s.Execute(ctx, s.ChannelUUID(), "playback", file)
}
