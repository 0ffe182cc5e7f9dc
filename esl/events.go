package esl

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// subscriptionSet tracks which events this connection has asked FreeSWITCH
// for. FreeSWITCH replaces its server-side set on every "event plain"
// command, so the set only ever grows and the full set is re-emitted on each
// growth. Insertion order is kept so the wire command is deterministic.
type subscriptionSet struct {
	mu          sync.Mutex
	events      map[EventName]struct{}
	eventOrder  []EventName
	custom      map[string]struct{}
	customOrder []string
}

func (s *subscriptionSet) init() {
	s.events = map[EventName]struct{}{}
	s.custom = map[string]struct{}{}
}

// add unions the given names and subclasses in. It returns the full wire
// command when the set grew, "" when the call added nothing.
func (s *subscriptionSet) add(names []EventName, subclasses []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	grew := false
	for _, n := range names {
		if n == "" || n == EventUnknown {
			continue
		}
		if _, ok := s.events[n]; !ok {
			s.events[n] = struct{}{}
			s.eventOrder = append(s.eventOrder, n)
			grew = true
		}
	}
	for _, sub := range subclasses {
		if sub == "" {
			continue
		}
		if _, ok := s.custom[sub]; !ok {
			s.custom[sub] = struct{}{}
			s.customOrder = append(s.customOrder, sub)
			grew = true
		}
	}
	if !grew {
		return ""
	}
	return s.commandLocked()
}

func (s *subscriptionSet) commandLocked() string {
	var b strings.Builder
	b.WriteString("event plain")
	for _, n := range s.eventOrder {
		b.WriteString(" " + n.UpperUnderscore())
	}
	if len(s.customOrder) > 0 {
		b.WriteString(" CUSTOM")
		for _, sub := range s.customOrder {
			b.WriteString(" " + sub)
		}
	}
	return b.String()
}

// SubscribeEvents unions the names into the subscription set and, only when
// the set grew, re-issues the full "event plain …" command. Re-subscribing
// an already-subscribed name is a no-op on the wire.
func (c *Connection) SubscribeEvents(ctx context.Context, names ...EventName) error {
	return c.applySubscriptions(ctx, names, nil)
}

// SubscribeCustomEvents unions CUSTOM event subclasses into the set. The
// wire command carries CUSTOM once, followed by every subscribed subclass.
func (c *Connection) SubscribeCustomEvents(ctx context.Context, subclasses ...string) error {
	return c.applySubscriptions(ctx, nil, subclasses)
}

func (c *Connection) applySubscriptions(ctx context.Context, names []EventName, subclasses []string) error {
	cmd := c.subscriptions.add(names, subclasses)
	if cmd == "" {
		return nil
	}
	reply, err := c.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	if !reply.Success() {
		return fmt.Errorf("esl: event subscription refused: %s", reply.ErrMessage())
	}
	return nil
}

// FirstEvent returns the first event matching the predicate. A nil event
// with nil error means the connection terminated before a match arrived.
func (c *Connection) FirstEvent(ctx context.Context, match func(*EventMessage) bool) (*EventMessage, error) {
	sub := c.events.subscribe()
	defer sub.Close()
	return awaitEvent(ctx, sub, match)
}

// FirstChannelEvent scopes FirstEvent to one channel UUID.
func (c *Connection) FirstChannelEvent(ctx context.Context, channelUUID string, match func(*EventMessage) bool) (*EventMessage, error) {
	return c.FirstEvent(ctx, func(ev *EventMessage) bool {
		return ev.ChannelUUID() == channelUUID && match(ev)
	})
}

// FirstJobEvent waits for the BACKGROUND_JOB event of one job UUID.
func (c *Connection) FirstJobEvent(ctx context.Context, jobUUID string) (*EventMessage, error) {
	return c.FirstEvent(ctx, func(ev *EventMessage) bool {
		return ev.Name() == EventBackgroundJob && ev.JobUUID() == jobUUID
	})
}

func awaitEvent(ctx context.Context, sub *Subscription[*EventMessage], match func(*EventMessage) bool) (*EventMessage, error) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil, sub.Err()
			}
			if match(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// OnHangup invokes fn at most once, on the first CHANNEL_HANGUP for the
// given channel. The hook subscribes CHANNEL_HANGUP if needed and detaches
// after firing or when the connection completes.
func (c *Connection) OnHangup(ctx context.Context, channelUUID string, fn func(*EventMessage)) error {
	if err := c.SubscribeEvents(ctx, EventChannelHangup); err != nil {
		return err
	}
	sub := c.channelEvents.subscribe()
	go func() {
		defer sub.Close()
		for ev := range sub.C() {
			if ev.Name() == EventChannelHangup && ev.ChannelUUID() == channelUUID {
				fn(ev)
				return
			}
		}
	}()
	return nil
}

// Filter asks FreeSWITCH to restrict the event stream to events whose
// header matches the value.
func (c *Connection) Filter(ctx context.Context, header, value string) error {
	return c.simpleCommand(ctx, "filter "+header+" "+value)
}

// FilterDelete removes a server-side filter added with Filter.
func (c *Connection) FilterDelete(ctx context.Context, header, value string) error {
	return c.simpleCommand(ctx, "filter delete "+header+" "+value)
}

// SendEvent fires a "sendevent" with the given raw arguments.
func (c *Connection) SendEvent(ctx context.Context, args string) error {
	return c.simpleCommand(ctx, "sendevent "+args)
}

func (c *Connection) simpleCommand(ctx context.Context, cmd string) error {
	reply, err := c.SendCommand(ctx, cmd)
	if err != nil {
		return err
	}
	if !reply.Success() {
		return fmt.Errorf("esl: %q refused: %s", cmd, reply.ErrMessage())
	}
	return nil
}
