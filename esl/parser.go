package esl

import (
	"strconv"
	"strings"
)

type parserState int

const (
	stateHeaders parserState = iota
	stateBody
	stateComplete
)

// parser is a restartable state machine that frames exactly one ESL message
// from a byte stream. The transport has already normalized CRLF to LF, so a
// header block ends at the first "\n\n". A parser instance is consumed once
// its message is extracted; the caller chains a fresh parser for the next
// byte.
type parser struct {
	state     parserState
	headerBuf []byte
	msg       *Message
	body      []byte
	want      int
	extracted bool
}

func newParser() *parser {
	return &parser{}
}

// feed consumes one byte. It returns a *ProtocolError when the header block
// declares a Content-Length that is not a base-10 integer; that error is
// fatal to the connection.
func (p *parser) feed(b byte) error {
	switch p.state {
	case stateHeaders:
		p.headerBuf = append(p.headerBuf, b)
		n := len(p.headerBuf)
		if b != '\n' || n < 2 || p.headerBuf[n-2] != '\n' {
			return nil
		}
		msg, length, err := parseHeaderBlock(string(p.headerBuf[:n-2]))
		if err != nil {
			return err
		}
		p.msg = msg
		if length > 0 {
			p.want = length
			p.body = make([]byte, 0, length)
			p.state = stateBody
		} else {
			p.state = stateComplete
		}
	case stateBody:
		p.body = append(p.body, b)
		if len(p.body) == p.want {
			p.msg.body = p.body
			p.state = stateComplete
		}
	case stateComplete:
		// Bytes past completion belong to the next message; the framer must
		// start a fresh parser instead.
		return &ProtocolError{Reason: "byte fed to completed parser"}
	}
	return nil
}

func (p *parser) complete() bool {
	return p.state == stateComplete
}

// extract returns the framed message. Valid once, and only in the complete
// state.
func (p *parser) extract() *Message {
	if p.state != stateComplete || p.extracted {
		return nil
	}
	p.extracted = true
	return p.msg
}

// parseHeaderBlock parses "Key: Value" lines separated by \n. Values may
// themselves contain ": " (URLs); only the first occurrence per line splits.
// Returns the declared body length, 0 when absent.
func parseHeaderBlock(block string) (*Message, int, error) {
	msg := newMessage()
	length := 0
	for _, line := range strings.Split(block, "\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx <= 0 {
			continue
		}
		key, value := line[:idx], line[idx+2:]
		msg.set(key, value)
		if key == HeaderContentLength {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, 0, &ProtocolError{Reason: "malformed Content-Length: " + value}
			}
			length = n
		}
	}
	return msg, length, nil
}
