package esl

import "time"

// Content types classifying every framed ESL message.
const (
	ContentTypeAuthRequest      = "auth/request"
	ContentTypeCommandReply     = "command/reply"
	ContentTypeAPIResponse      = "api/response"
	ContentTypeEventPlain       = "text/event-plain"
	ContentTypeDisconnectNotice = "text/disconnect-notice"
)

// Header names used by the core. ESL header names are case-sensitive.
const (
	HeaderContentType         = "Content-Type"
	HeaderContentLength       = "Content-Length"
	HeaderReplyText           = "Reply-Text"
	HeaderEventName           = "Event-Name"
	HeaderEventSubclass       = "Event-Subclass"
	HeaderUniqueID            = "Unique-ID"
	HeaderJobUUID             = "Job-UUID"
	HeaderApplicationUUID     = "Application-UUID"
	HeaderApplicationResponse = "Application-Response"
	HeaderChannelCallUUID     = "Channel-Call-UUID"
	HeaderHangupCause         = "Hangup-Cause"
	HeaderOtherLegUniqueID    = "Other-Leg-Unique-ID"
	HeaderAnswerState         = "Answer-State"
)

const (
	// DefaultResponseTimeout bounds how long a command transaction waits for
	// its reply before failing with ErrTimeout.
	DefaultResponseTimeout = 5 * time.Second

	// disconnectNoticeTimeout bounds how long Exit waits for the peer's
	// text/disconnect-notice after the command reply. Expiry counts as
	// success.
	disconnectNoticeTimeout = 2 * time.Second
)
