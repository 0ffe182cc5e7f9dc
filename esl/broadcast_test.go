package esl

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, sub *Subscription[T], n int) []T {
	t.Helper()
	var got []T
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return got
			}
			got = append(got, v)
		case <-timeout:
			t.Fatalf("timed out after %d of %d values", len(got), n)
		}
	}
	return got
}

func TestStreamDeliversInPublishOrder(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()
	defer sub.Close()

	go func() {
		for i := 0; i < 100; i++ {
			s.publish(i)
		}
	}()

	got := collect(t, sub, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestStreamIsHot(t *testing.T) {
	s := newStream[int]()
	early := s.subscribe()
	defer early.Close()

	s.publish(1)
	// The published value is in flight toward early only.
	late := s.subscribe()
	defer late.Close()
	s.publish(2)

	assert.Equal(t, []int{1, 2}, collect(t, early, 2))
	assert.Equal(t, []int{2}, collect(t, late, 1))
}

func TestStreamTerminalError(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()

	s.publish(7)
	want := errors.New("boom")
	s.close(want)
	// Only the first close sticks.
	s.close(errors.New("ignored"))

	got := collect(t, sub, 1)
	assert.Equal(t, []int{7}, got, "queued values drain before the terminal signal")
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, want, sub.Err())
}

func TestStreamNormalCompletion(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()
	s.close(nil)
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
}

func TestSubscribeAfterCloseIsTerminated(t *testing.T) {
	s := newStream[int]()
	s.close(nil)
	sub := s.subscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSubscriptionCloseDetaches(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()
	s.publish(1)
	sub.Close()
	// Publishing to a closed subscription must not block the stream even
	// though nobody is receiving.
	for i := 0; i < 64; i++ {
		s.publish(i)
	}
	sub.Close() // idempotent
}

func TestSlowSubscriberDoesNotStallOthers(t *testing.T) {
	s := newStream[int]()
	slow := s.subscribe()
	defer slow.Close()
	fast := s.subscribe()
	defer fast.Close()

	for i := 0; i < 50; i++ {
		s.publish(i)
	}
	// fast drains everything while slow has consumed nothing.
	got := collect(t, fast, 50)
	require.Len(t, got, 50)
}
