package esl_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamkinetic/NEventSocket/esl"
)

func TestOriginateOptionsRoundTrip(t *testing.T) {
	opts := esl.OriginateOptions{
		CallerIDName:     "Front Desk",
		CallerIDNumber:   "1000",
		TimeoutSeconds:   30,
		IgnoreEarlyMedia: true,
		Variables: map[string]string{
			"absolute_codec_string": "PCMU,PCMA",
			"my_var":                "simple",
		},
	}
	s := opts.String()
	assert.Equal(t,
		"{origination_caller_id_name='Front Desk',origination_caller_id_number=1000,"+
			"originate_timeout=30,ignore_early_media=true,"+
			"absolute_codec_string='PCMU,PCMA',my_var=simple}", s)

	parsed, err := esl.ParseOriginateOptions(s)
	require.NoError(t, err)
	assert.Equal(t, opts, parsed)
}

func TestOriginateOptionsEmpty(t *testing.T) {
	assert.Equal(t, "", esl.OriginateOptions{}.String())
	parsed, err := esl.ParseOriginateOptions("")
	require.NoError(t, err)
	assert.Equal(t, esl.OriginateOptions{}, parsed)
}

func TestOriginateOptionsParseErrors(t *testing.T) {
	_, err := esl.ParseOriginateOptions("no-braces")
	assert.Error(t, err)
	_, err = esl.ParseOriginateOptions("{novalue}")
	assert.Error(t, err)
	_, err = esl.ParseOriginateOptions("{a='unterminated}")
	assert.Error(t, err)
}

func TestBridgeOptionsRoundTrip(t *testing.T) {
	opts := esl.BridgeOptions{
		TimeoutSeconds:    45,
		IgnoreEarlyMedia:  true,
		HangupAfterBridge: true,
		Variables:         map[string]string{"continue_on_fail": "false"},
	}
	parsed, err := esl.ParseBridgeOptions(opts.String())
	require.NoError(t, err)
	assert.Equal(t, opts, parsed)
}

func TestOriginateDrivesBgapi(t *testing.T) {
	f := newFakeSwitch(t)
	conn := dialFake(t, f, esl.ConnectionOptions{})

	done := make(chan *esl.BackgroundJobResult, 1)
	go func() {
		res, err := conn.Originate(context.Background(), "user/1001", "&park()", esl.OriginateOptions{
			TimeoutSeconds: 20,
		})
		require.NoError(t, err)
		done <- res
	}()

	require.Equal(t, "event plain BACKGROUND_JOB", f.readCommand())
	f.sendReply("+OK event listener enabled plain")

	bgapi := f.readCommand()
	require.True(t, strings.HasPrefix(bgapi,
		"bgapi originate {originate_timeout=20}user/1001 &park()\nJob-UUID: "), "got %q", bgapi)
	jobUUID := bgapi[strings.LastIndex(bgapi, ": ")+2:]
	f.sendReply("+OK Job-UUID: " + jobUUID)
	f.sendEvent([][2]string{
		{"Event-Name", "BACKGROUND_JOB"},
		{"Job-UUID", jobUUID},
	}, "+OK 99999999-1111-2222-3333-444444444444\n")

	res := <-done
	require.NotNil(t, res)
	assert.True(t, res.Success())
}
