package esl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ExecuteOptions tunes a dialplan application invocation.
type ExecuteOptions struct {
	// EventLock serializes the application with others on the channel.
	EventLock bool
	// Async lets the application run without blocking the channel.
	Async bool
	// Loops repeats the application. Zero or one runs it once.
	Loops int
}

// Execute runs a dialplan application on a channel and waits for its
// CHANNEL_EXECUTE_COMPLETE, correlated by a generated Application-UUID so
// concurrent applications on the same channel resolve independently.
//
// A nil event with nil error means the application was refused by the
// switch, or the connection terminated before completion.
func (c *Connection) Execute(ctx context.Context, channelUUID, app, args string) (*EventMessage, error) {
	return c.ExecuteWithOptions(ctx, channelUUID, app, args, ExecuteOptions{})
}

func (c *Connection) ExecuteWithOptions(ctx context.Context, channelUUID, app, args string, opts ExecuteOptions) (*EventMessage, error) {
	if err := c.SubscribeEvents(ctx, EventChannelExecuteComplete); err != nil {
		return nil, err
	}
	appUUID := uuid.New().String()
	// The observer must be armed before the command is written, or the
	// completion could slip past between write and subscribe.
	sub := c.events.subscribe()
	defer sub.Close()

	reply, err := c.sendExecute(ctx, channelUUID, app, args, appUUID, opts)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrDisposed) {
			return nil, nil
		}
		return nil, err
	}
	if !reply.Success() {
		// No execute-complete will ever arrive for a refused sendmsg.
		c.logger.Debug("execute refused", "app", app, "channel", channelUUID, "error", reply.ErrMessage())
		return nil, nil
	}
	return awaitEventOrTermination(ctx, sub, func(ev *EventMessage) bool {
		return ev.Name() == EventChannelExecuteComplete && ev.ApplicationUUID() == appUUID
	})
}

// awaitEventOrTermination resolves with an absent result, not an error, when
// the connection terminates before a match arrives.
func awaitEventOrTermination(ctx context.Context, sub *Subscription[*EventMessage], match func(*EventMessage) bool) (*EventMessage, error) {
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil, nil
			}
			if match(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Bridge runs the bridge application on the A-leg. A successful bridge does
// not emit CHANNEL_EXECUTE_COMPLETE until the B-leg hangs up, so the
// execute-complete observer races an observer for the first CHANNEL_BRIDGE
// or CHANNEL_HANGUP on the A-leg; whichever lands first resolves the call.
// The returned event's name distinguishes bridged from hung up.
func (c *Connection) Bridge(ctx context.Context, channelUUID, bridgeArgs string) (*EventMessage, error) {
	err := c.SubscribeEvents(ctx, EventChannelExecuteComplete, EventChannelBridge, EventChannelHangup)
	if err != nil {
		return nil, err
	}
	appUUID := uuid.New().String()
	// One subscription observes both outcomes, armed before the write.
	sub := c.events.subscribe()
	defer sub.Close()

	reply, err := c.sendExecute(ctx, channelUUID, "bridge", bridgeArgs, appUUID, ExecuteOptions{})
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrDisposed) {
			return nil, nil
		}
		return nil, err
	}
	if !reply.Success() {
		c.logger.Debug("bridge refused", "channel", channelUUID, "error", reply.ErrMessage())
		return nil, nil
	}
	return awaitEventOrTermination(ctx, sub, func(ev *EventMessage) bool {
		switch ev.Name() {
		case EventChannelExecuteComplete:
			return ev.ApplicationUUID() == appUUID
		case EventChannelBridge, EventChannelHangup:
			return ev.ChannelUUID() == channelUUID
		}
		return false
	})
}

func (c *Connection) sendExecute(ctx context.Context, channelUUID, app, args, appUUID string, opts ExecuteOptions) (CommandReply, error) {
	return c.SendCommand(ctx, buildSendMsg(channelUUID, app, args, appUUID, opts))
}

// buildSendMsg emits the sendmsg body. With args, the arguments travel as a
// text/plain payload framed by its own content-length inside the sendmsg
// body. The trailing "\n\n" terminator is appended by the pipeline.
func buildSendMsg(channelUUID, app, args, appUUID string, opts ExecuteOptions) string {
	var b strings.Builder
	b.WriteString("sendmsg")
	if channelUUID != "" {
		b.WriteString(" " + channelUUID)
	}
	b.WriteString("\nEvent-UUID: " + appUUID)
	b.WriteString("\ncall-command: execute")
	b.WriteString("\nexecute-app-name: " + app)
	if opts.EventLock {
		b.WriteString("\nevent-lock: true")
	}
	if opts.Loops > 0 {
		b.WriteString("\nloops: " + strconv.Itoa(opts.Loops))
	}
	if opts.Async {
		// FreeSWITCH historically accepted this exact spelling; kept for
		// wire compatibility with deployed switches.
		b.WriteString("\nisAsync: true")
	}
	if args != "" {
		b.WriteString("\ncontent-type: text/plain")
		b.WriteString("\ncontent-length: " + strconv.Itoa(len(args)))
		b.WriteString("\n\n" + args)
	}
	return b.String()
}

// BackgroundJob runs "bgapi <command> [<arg>]" and waits for the correlated
// BACKGROUND_JOB event carrying the job's result.
func (c *Connection) BackgroundJob(ctx context.Context, command, args string) (*BackgroundJobResult, error) {
	if err := c.SubscribeEvents(ctx, EventBackgroundJob); err != nil {
		return nil, err
	}
	jobUUID := uuid.New().String()
	sub := c.events.subscribe()
	defer sub.Close()

	cmd := "bgapi " + command
	if args != "" {
		cmd += " " + args
	}
	cmd += "\nJob-UUID: " + jobUUID
	reply, err := c.SendCommand(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if !reply.Success() {
		return nil, fmt.Errorf("esl: bgapi %s refused: %s", command, reply.ErrMessage())
	}
	ev, err := awaitEvent(ctx, sub, func(ev *EventMessage) bool {
		return ev.Name() == EventBackgroundJob && ev.JobUUID() == jobUUID
	})
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrCancelled
	}
	return &BackgroundJobResult{ev}, nil
}
