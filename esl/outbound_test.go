package esl_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamkinetic/NEventSocket/esl"
)

func newTestListener(t *testing.T) *esl.OutboundListener {
	t.Helper()
	l := esl.NewOutboundListenerWithOptions(0, esl.OutboundOptions{Logger: quietLogger()})
	t.Cleanup(l.Dispose)
	return l
}

// fakeCall plays the FreeSWITCH side of one outbound socket: FreeSWITCH
// dials us, reads our connect command, and answers with the channel data.
type fakeCall struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialListener(t *testing.T, l *esl.OutboundListener) *fakeCall {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", l.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeCall{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeCall) expectConnect() {
	f.t.Helper()
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := f.r.ReadString('\n')
	require.NoError(f.t, err)
	require.Equal(f.t, "connect\n", line)
	blank, err := f.r.ReadString('\n')
	require.NoError(f.t, err)
	require.Equal(f.t, "\n", blank)
}

func (f *fakeCall) sendChannelData(channelUUID string) {
	f.t.Helper()
	_, err := f.conn.Write([]byte("Content-Type: command/reply\n" +
		"Reply-Text: +OK\n" +
		"Channel-Call-UUID: " + channelUUID + "\n" +
		"Unique-ID: " + channelUUID + "\n" +
		"Channel-Name: sofia/internal/1001@10.0.0.1\n" +
		"Answer-State: ringing\n\n"))
	require.NoError(f.t, err)
}

func TestOutboundListenerStartIsIdempotent(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())
	port := l.Port()
	require.NoError(t, l.Start())
	assert.Equal(t, port, l.Port())
	assert.True(t, l.IsStarted())
}

func TestOutboundListenerStopStartCycle(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())
	require.NoError(t, l.Stop())
	assert.False(t, l.IsStarted())

	// Start after Stop yields a working listener; the ephemeral port may
	// differ.
	require.NoError(t, l.Start())
	assert.True(t, l.IsStarted())

	conns := l.Connections()
	defer conns.Close()
	dialListener(t, l)
	select {
	case s := <-conns.C():
		require.NotNil(t, s)
	case <-time.After(2 * time.Second):
		t.Fatal("restarted listener did not accept")
	}
}

func TestOutboundListenerDisposeRefusesStart(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())
	l.Dispose()
	assert.False(t, l.IsStarted())
	assert.ErrorIs(t, l.Start(), esl.ErrDisposed)
}

func TestOutboundSessionConnect(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())

	conns := l.Connections()
	defer conns.Close()
	channels := l.Channels()
	defer channels.Close()

	const channelUUID = "0cf4fc0c-ea53-4b13-8be6-8cb0b3fb1ca2"
	call := dialListener(t, l)

	var session *esl.OutboundSession
	select {
	case session = <-conns.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no session accepted")
	}
	assert.Nil(t, session.ChannelData(), "channel data must not exist before Connect")

	done := make(chan error, 1)
	go func() {
		done <- session.Connect(context.Background())
	}()
	call.expectConnect()
	call.sendChannelData(channelUUID)
	require.NoError(t, <-done)

	assert.Equal(t, channelUUID, session.ChannelUUID())
	require.NotNil(t, session.ChannelData())
	assert.Equal(t, "sofia/internal/1001@10.0.0.1", session.ChannelData().Header("Channel-Name"))

	// The session shows up on Channels only after channel data arrived.
	select {
	case s := <-channels.C():
		assert.Same(t, session, s)
	case <-time.After(2 * time.Second):
		t.Fatal("session never appeared on Channels")
	}
}

func TestOutboundSessionConnectCancelledOnEarlyDisconnect(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())

	conns := l.Connections()
	defer conns.Close()
	channels := l.Channels()
	defer channels.Close()

	call := dialListener(t, l)
	var session *esl.OutboundSession
	select {
	case session = <-conns.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no session accepted")
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Connect(context.Background())
	}()
	call.expectConnect()
	call.conn.Close()

	require.ErrorIs(t, <-done, esl.ErrCancelled)

	// A session that disconnected before its channel data never reaches
	// Channels.
	select {
	case <-channels.C():
		t.Fatal("disconnected session appeared on Channels")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOutboundStopKeepsSessionsAlive(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())

	conns := l.Connections()
	defer conns.Close()

	const channelUUID = "77777777-8888-9999-aaaa-bbbbbbbbbbbb"
	call := dialListener(t, l)
	var session *esl.OutboundSession
	select {
	case session = <-conns.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no session accepted")
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Connect(context.Background())
	}()
	call.expectConnect()
	call.sendChannelData(channelUUID)
	require.NoError(t, <-done)

	require.NoError(t, l.Stop())
	select {
	case <-session.Done():
		t.Fatal("Stop must not dispose accepted sessions")
	default:
	}

	l.Dispose()
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Dispose must dispose every session ever produced")
	}
}

func TestOutboundSessionExecuteOnChannel(t *testing.T) {
	l := newTestListener(t)
	require.NoError(t, l.Start())

	conns := l.Connections()
	defer conns.Close()

	const channelUUID = "12121212-3434-5656-7878-909090909090"
	call := dialListener(t, l)
	var session *esl.OutboundSession
	select {
	case session = <-conns.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no session accepted")
	}

	connectDone := make(chan error, 1)
	go func() {
		connectDone <- session.Connect(context.Background())
	}()
	call.expectConnect()
	call.sendChannelData(channelUUID)
	require.NoError(t, <-connectDone)

	// Drive Answer through the scripted switch using the richer reader from
	// connection_test.
	f := &fakeSwitch{t: t, conn: call.conn}
	done := make(chan *esl.EventMessage, 1)
	go func() {
		ev, err := session.Answer(context.Background())
		require.NoError(t, err)
		done <- ev
	}()
	require.Equal(t, "event plain CHANNEL_EXECUTE_COMPLETE", f.readCommand())
	f.sendReply("+OK event listener enabled plain")
	sendmsg := f.readCommand()
	require.Contains(t, sendmsg, "sendmsg "+channelUUID+"\n")
	require.Contains(t, sendmsg, "execute-app-name: answer")
	appUUID := extractHeaderLine(t, sendmsg, "Event-UUID: ")
	f.sendReply("+OK")
	f.sendEvent([][2]string{
		{"Event-Name", "CHANNEL_EXECUTE_COMPLETE"},
		{"Unique-ID", channelUUID},
		{"Application-UUID", appUUID},
		{"Application", "answer"},
	}, "")

	ev := <-done
	require.NotNil(t, ev)
	assert.Equal(t, esl.EventChannelExecuteComplete, ev.Name())
}

func extractHeaderLine(t *testing.T, raw, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(raw, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return rest
		}
	}
	t.Fatalf("no %q line in %q", prefix, raw)
	return ""
}
