package esl

import (
	"net/url"
	"strings"
)

// Message is one framed ESL message: an ordered set of headers and an
// optional body. A nil body means the message declared no Content-Length,
// which is distinct from an empty body of length zero.
type Message struct {
	headers map[string]string
	keys    []string
	body    []byte
}

func newMessage() *Message {
	return &Message{headers: map[string]string{}}
}

func (m *Message) set(key, value string) {
	if _, exists := m.headers[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.headers[key] = value
}

// Header returns the value for key, or "" when absent.
func (m *Message) Header(key string) string {
	return m.headers[key]
}

// HasHeader reports whether key is present, even with an empty value.
func (m *Message) HasHeader(key string) bool {
	_, ok := m.headers[key]
	return ok
}

// HeaderNames returns the header keys in arrival order.
func (m *Message) HeaderNames() []string {
	names := make([]string, len(m.keys))
	copy(names, m.keys)
	return names
}

func (m *Message) ContentType() string {
	return m.headers[HeaderContentType]
}

func (m *Message) HasBody() bool {
	return m.body != nil
}

func (m *Message) Body() []byte {
	return m.body
}

func (m *Message) BodyString() string {
	return string(m.body)
}

func (m *Message) String() string {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k + ": " + m.headers[k] + "\n")
	}
	if m.HasBody() {
		b.WriteString("\n")
		b.Write(m.body)
	}
	return b.String()
}

// CommandReply is a command/reply view. Success iff Reply-Text starts with
// +OK.
type CommandReply struct {
	*Message
}

func (r CommandReply) ReplyText() string {
	return r.Header(HeaderReplyText)
}

func (r CommandReply) Success() bool {
	return strings.HasPrefix(r.ReplyText(), "+OK")
}

// ErrMessage returns the text after "-ERR ", or "" on success.
func (r CommandReply) ErrMessage() string {
	return errText(r.ReplyText())
}

// APIResponse is an api/response view over a body-bearing message.
type APIResponse struct {
	*Message
}

// Text returns the response body with trailing newlines trimmed.
func (r APIResponse) Text() string {
	return strings.TrimRight(r.BodyString(), "\n")
}

// Success is true for a non-empty body that does not start with "-", with
// one anomaly: "-ERR no reply" counts as success because FreeSWITCH emits it
// for commands that legitimately return nothing. The error text is still
// preserved for diagnostics.
func (r APIResponse) Success() bool {
	text := r.Text()
	if text == "" {
		return false
	}
	return strings.HasPrefix(text, "-ERR no reply") || text[0] != '-'
}

func (r APIResponse) ErrMessage() string {
	return errText(r.Text())
}

func errText(s string) string {
	if rest, ok := strings.CutPrefix(s, "-ERR "); ok {
		return strings.TrimRight(rest, "\n")
	}
	return ""
}

// EventMessage is a text/event-plain message whose body headers have been
// added to the frame headers; where both carry the same name, the frame's
// value is kept. Body header values are percent-decoded the way FreeSWITCH
// encodes them; frame headers are left untouched.
type EventMessage struct {
	*Message
	eventBody string
}

// parseEventMessage lifts a framed text/event-plain message into an event
// view. The body is itself a header block in ESL syntax, possibly carrying
// its own Content-Length-framed payload. A body that fails to parse yields
// an event with the frame headers only.
func parseEventMessage(m *Message) *EventMessage {
	ev := &EventMessage{Message: newMessage()}
	for _, k := range m.keys {
		ev.Message.set(k, m.headers[k])
	}
	ev.Message.body = m.body
	if !m.HasBody() {
		return ev
	}
	inner, ok := parseBodyBlock(m.body)
	if !ok {
		return ev
	}
	for _, k := range inner.keys {
		if ev.Message.HasHeader(k) {
			continue
		}
		value := inner.headers[k]
		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}
		ev.Message.set(k, value)
	}
	ev.eventBody = inner.BodyString()
	return ev
}

// parseBodyBlock frames the event body with a fresh parser, appending a
// terminator when the block ends without one.
func parseBodyBlock(body []byte) (*Message, bool) {
	p := newParser()
	for _, b := range body {
		if err := p.feed(b); err != nil {
			return nil, false
		}
		if p.complete() {
			break
		}
	}
	for i := 0; i < 2 && !p.complete(); i++ {
		if err := p.feed('\n'); err != nil {
			return nil, false
		}
	}
	if !p.complete() {
		return nil, false
	}
	return p.extract(), true
}

// Name returns the enumerated event name, EventUnknown for names outside the
// known set.
func (e *EventMessage) Name() EventName {
	return ParseEventName(e.RawName())
}

// RawName returns the wire-form Event-Name header.
func (e *EventMessage) RawName() string {
	return e.Header(HeaderEventName)
}

// Subclass returns the Event-Subclass header, set for CUSTOM events.
func (e *EventMessage) Subclass() string {
	return e.Header(HeaderEventSubclass)
}

// ChannelUUID returns the Unique-ID header, "" for non-channel events.
func (e *EventMessage) ChannelUUID() string {
	return e.Header(HeaderUniqueID)
}

func (e *EventMessage) JobUUID() string {
	return e.Header(HeaderJobUUID)
}

func (e *EventMessage) ApplicationUUID() string {
	return e.Header(HeaderApplicationUUID)
}

// ResponseText returns Application-Response, set on execute-complete events.
func (e *EventMessage) ResponseText() string {
	return e.Header(HeaderApplicationResponse)
}

func (e *EventMessage) HangupCause() string {
	return e.Header(HeaderHangupCause)
}

// EventBody returns the inner payload of the event, e.g. a background job
// result, "" when the event carried none.
func (e *EventMessage) EventBody() string {
	return e.eventBody
}

// BackgroundJobResult is derived from a BACKGROUND_JOB event whose body is
// either "+OK <payload>" or "-ERR <reason>".
type BackgroundJobResult struct {
	*EventMessage
}

func (r BackgroundJobResult) Success() bool {
	return strings.HasPrefix(r.EventBody(), "+OK")
}

func (r BackgroundJobResult) ErrMessage() string {
	return errText(strings.TrimRight(r.EventBody(), "\n"))
}

// Payload returns the text after "+OK", trimmed.
func (r BackgroundJobResult) Payload() string {
	if rest, ok := strings.CutPrefix(r.EventBody(), "+OK"); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}
