package esl

import "strings"

// EventName is the CamelCase form of a FreeSWITCH event name. The wire form
// is UPPER_UNDERSCORE; conversion between the two is mechanical.
type EventName string

const (
	EventUnknown EventName = "Unknown"
	EventCustom  EventName = "Custom"

	EventChannelCreate          EventName = "ChannelCreate"
	EventChannelDestroy         EventName = "ChannelDestroy"
	EventChannelState           EventName = "ChannelState"
	EventChannelCallstate       EventName = "ChannelCallstate"
	EventChannelAnswer          EventName = "ChannelAnswer"
	EventChannelHangup          EventName = "ChannelHangup"
	EventChannelHangupComplete  EventName = "ChannelHangupComplete"
	EventChannelExecute         EventName = "ChannelExecute"
	EventChannelExecuteComplete EventName = "ChannelExecuteComplete"
	EventChannelBridge          EventName = "ChannelBridge"
	EventChannelUnbridge        EventName = "ChannelUnbridge"
	EventChannelProgress        EventName = "ChannelProgress"
	EventChannelProgressMedia   EventName = "ChannelProgressMedia"
	EventChannelOutgoing        EventName = "ChannelOutgoing"
	EventChannelPark            EventName = "ChannelPark"
	EventChannelUnpark          EventName = "ChannelUnpark"
	EventChannelData            EventName = "ChannelData"
	EventChannelOriginate       EventName = "ChannelOriginate"
	EventChannelUuid            EventName = "ChannelUuid"

	EventApi              EventName = "Api"
	EventBackgroundJob    EventName = "BackgroundJob"
	EventDtmf             EventName = "Dtmf"
	EventHeartbeat        EventName = "Heartbeat"
	EventSessionHeartbeat EventName = "SessionHeartbeat"
	EventPlaybackStart    EventName = "PlaybackStart"
	EventPlaybackStop     EventName = "PlaybackStop"
	EventRecordStart      EventName = "RecordStart"
	EventRecordStop       EventName = "RecordStop"
	EventConferenceData   EventName = "ConferenceData"
	EventMessageWaiting   EventName = "MessageWaiting"
	EventPresenceIn       EventName = "PresenceIn"
	EventPresenceOut      EventName = "PresenceOut"
	EventShutdown         EventName = "Shutdown"
	EventStartup          EventName = "Startup"
	EventReloadxml        EventName = "Reloadxml"
)

var knownEventNames = map[EventName]struct{}{}

func init() {
	for _, n := range []EventName{
		EventCustom,
		EventChannelCreate, EventChannelDestroy, EventChannelState,
		EventChannelCallstate, EventChannelAnswer, EventChannelHangup,
		EventChannelHangupComplete, EventChannelExecute,
		EventChannelExecuteComplete, EventChannelBridge, EventChannelUnbridge,
		EventChannelProgress, EventChannelProgressMedia, EventChannelOutgoing,
		EventChannelPark, EventChannelUnpark, EventChannelData,
		EventChannelOriginate, EventChannelUuid,
		EventApi, EventBackgroundJob, EventDtmf, EventHeartbeat,
		EventSessionHeartbeat, EventPlaybackStart, EventPlaybackStop,
		EventRecordStart, EventRecordStop, EventConferenceData,
		EventMessageWaiting, EventPresenceIn, EventPresenceOut,
		EventShutdown, EventStartup, EventReloadxml,
	} {
		knownEventNames[n] = struct{}{}
	}
}

// ParseEventName converts a wire-form name such as CHANNEL_EXECUTE_COMPLETE
// to its EventName. Names outside the known set map to EventUnknown; the raw
// string stays available on the event message.
func ParseEventName(raw string) EventName {
	n := EventName(upperToCamel(raw))
	if _, ok := knownEventNames[n]; ok {
		return n
	}
	return EventUnknown
}

// UpperUnderscore returns the wire form, e.g. ChannelAnswer → CHANNEL_ANSWER.
func (n EventName) UpperUnderscore() string {
	return camelToUpper(string(n))
}

func upperToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(strings.ToLower(p[1:]))
	}
	return b.String()
}

func camelToUpper(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}
