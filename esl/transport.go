package esl

import (
	"io"
	"net"
	"sync"

	"golang.org/x/exp/slog"
)

// transport wraps the TCP socket. Writes are atomic under a mutex so two
// commands never interleave on the wire. A single reader goroutine, started
// lazily by the first receive call, turns the socket into a chunk stream
// with CRLF normalized to LF. Dispose is idempotent and fires a one-shot
// signal.
type transport struct {
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	readOnce  sync.Once
	chunks    chan []byte
	errMu     sync.Mutex
	readErr   error
	pendingCR bool

	disposeOnce sync.Once
	disposed    chan struct{}
}

func newTransport(conn net.Conn, logger *slog.Logger) *transport {
	return &transport{
		conn:     conn,
		logger:   logger,
		chunks:   make(chan []byte, 8),
		disposed: make(chan struct{}),
	}
}

// write sends one complete command atomically.
func (t *transport) write(s string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	select {
	case <-t.disposed:
		return ErrDisposed
	default:
	}
	_, err := t.conn.Write([]byte(s))
	return err
}

// receive returns the chunk stream, starting the reader on first use. The
// channel closes on EOF, read error, or dispose; readError distinguishes.
func (t *transport) receive() <-chan []byte {
	t.readOnce.Do(func() {
		go t.readLoop()
	})
	return t.chunks
}

func (t *transport) readLoop() {
	defer close(t.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := t.normalize(buf[:n])
			if len(chunk) > 0 {
				select {
				case t.chunks <- chunk:
				case <-t.disposed:
					return
				}
			}
		}
		if err != nil {
			select {
			case <-t.disposed:
				// Local dispose; not an upstream failure.
			default:
				if err != io.EOF {
					t.errMu.Lock()
					t.readErr = err
					t.errMu.Unlock()
				}
			}
			return
		}
	}
}

// normalize copies src with every CRLF collapsed to LF. A CR at a chunk
// boundary is held back until the next chunk decides its fate.
func (t *transport) normalize(src []byte) []byte {
	out := make([]byte, 0, len(src)+1)
	if t.pendingCR {
		t.pendingCR = false
		if len(src) == 0 || src[0] != '\n' {
			out = append(out, '\r')
		}
	}
	for i := 0; i < len(src); i++ {
		b := src[i]
		if b == '\r' {
			if i == len(src)-1 {
				t.pendingCR = true
				break
			}
			if src[i+1] == '\n' {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// readError returns the upstream failure, nil after clean EOF or local
// dispose. io.EOF is never recorded, so a peer that closes cleanly reads as
// normal completion.
func (t *transport) readError() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.readErr
}

// dispose closes the socket and fires the Disposed signal. Safe to call any
// number of times.
func (t *transport) dispose() {
	t.disposeOnce.Do(func() {
		close(t.disposed)
		if err := t.conn.Close(); err != nil {
			t.logger.Debug("socket close", "error", err)
		}
	})
}

func (t *transport) Disposed() <-chan struct{} {
	return t.disposed
}

func (t *transport) remoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
