package esl

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func readChunks(t *testing.T, ch <-chan []byte, want int) []byte {
	t.Helper()
	var got []byte
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case chunk, ok := <-ch:
			require.True(t, ok, "chunk stream closed after %d of %d bytes", len(got), want)
			got = append(got, chunk...)
		case <-timeout:
			t.Fatalf("timed out after %d of %d bytes", len(got), want)
		}
	}
	return got
}

func TestTransportNormalizesCRLF(t *testing.T) {
	client, server := net.Pipe()
	tr := newTransport(client, testLogger())
	defer tr.dispose()

	ch := tr.receive()
	go func() {
		server.Write([]byte("Reply-Text: +OK\r\n\r\n"))
	}()

	got := readChunks(t, ch, len("Reply-Text: +OK\n\n"))
	assert.Equal(t, "Reply-Text: +OK\n\n", string(got))
}

func TestTransportCRLFSplitAcrossChunks(t *testing.T) {
	client, server := net.Pipe()
	tr := newTransport(client, testLogger())
	defer tr.dispose()

	ch := tr.receive()
	go func() {
		server.Write([]byte("a\r")) // CR held back at the boundary
		server.Write([]byte("\nb"))
	}()

	got := readChunks(t, ch, 3)
	assert.Equal(t, "a\nb", string(got))
}

func TestTransportKeepsLoneCR(t *testing.T) {
	client, server := net.Pipe()
	tr := newTransport(client, testLogger())
	defer tr.dispose()

	ch := tr.receive()
	go func() {
		server.Write([]byte("a\r"))
		server.Write([]byte("x"))
	}()

	got := readChunks(t, ch, 3)
	assert.Equal(t, "a\rx", string(got))
}

func TestTransportDisposeIsIdempotent(t *testing.T) {
	client, _ := net.Pipe()
	tr := newTransport(client, testLogger())

	tr.dispose()
	tr.dispose()
	select {
	case <-tr.Disposed():
	default:
		t.Fatal("Disposed signal not fired")
	}
	assert.ErrorIs(t, tr.write("anything"), ErrDisposed)
}

func TestTransportChunkStreamClosesOnPeerClose(t *testing.T) {
	client, server := net.Pipe()
	tr := newTransport(client, testLogger())
	defer tr.dispose()

	ch := tr.receive()
	server.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("chunk stream did not close")
	}
}
