package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Subscriber) []Event {
	var out []Event
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestVerbosityFilter(t *testing.T) {
	bus := NewBus("exp-1")
	quiet, err := bus.Subscribe(0)
	require.NoError(t, err)
	normal, err := bus.Subscribe(1)
	require.NoError(t, err)
	debug, err := bus.Subscribe(3)
	require.NoError(t, err)

	bus.Publish(KindError, map[string]any{"message": "boom"})
	bus.Publish(KindIterationComplete, map[string]any{"iteration": 1})
	bus.Publish(KindLLMRequest, map[string]any{"role": "target"})
	bus.Publish(KindDecisionPoint, map[string]any{"decision_type": "threshold_check"})

	assert.Len(t, drain(quiet), 1)
	assert.Len(t, drain(normal), 2)
	assert.Len(t, drain(debug), 4)
}

func TestPublishAssignsMonotoneSeq(t *testing.T) {
	bus := NewBus("exp-1")
	sub, err := bus.Subscribe(3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		bus.Publish(KindTaskUpdate, nil)
	}
	got := drain(sub)
	require.Len(t, got, 10)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, "exp-1", e.ExperimentID)
		assert.Equal(t, MinVerbosity(KindTaskUpdate), e.MinVerbosity)
	}
}

func TestVerbosityUpgradeMidStream(t *testing.T) {
	bus := NewBus("exp-1")
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)

	bus.Publish(KindJudgeStart, map[string]any{"iteration": 1})
	require.NoError(t, sub.SetVerbosity(3))
	bus.Publish(KindJudgeStart, map[string]any{"iteration": 2})

	got := drain(sub)
	require.Len(t, got, 1, "events skipped before the upgrade are not redelivered")
	assert.Equal(t, 2, got[0].Payload["iteration"])
}

func TestSetVerbosityRejectsOutOfRange(t *testing.T) {
	bus := NewBus("exp-1")
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	assert.Error(t, sub.SetVerbosity(4))
	assert.Error(t, sub.SetVerbosity(-1))
	assert.Equal(t, 1, sub.Verbosity())

	_, err = bus.Subscribe(5)
	assert.Error(t, err)
}

func TestSlowSubscriberPurgedOnBroadcast(t *testing.T) {
	bus := NewBus("exp-1")
	slow, err := bus.Subscribe(0)
	require.NoError(t, err)
	require.Equal(t, 1, bus.SubscriberCount())

	// Fill the buffer without draining, then publish once more.
	for i := 0; i < subscriberBuffer; i++ {
		bus.Publish(KindError, nil)
	}
	require.Equal(t, 1, bus.SubscriberCount())
	bus.Publish(KindError, nil)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Channel is closed after the purge.
	got := drain(slow)
	assert.Len(t, got, subscriberBuffer)
	_, open := <-slow.Events()
	assert.False(t, open)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus("exp-1")
	sub, err := bus.Subscribe(2)
	require.NoError(t, err)

	bus.Unsubscribe(sub)
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after unsubscribe must not panic.
	bus.Publish(KindError, nil)
}

func TestBusCloseClosesAllSubscribers(t *testing.T) {
	bus := NewBus("exp-1")
	a, _ := bus.Subscribe(1)
	b, _ := bus.Subscribe(2)

	bus.Close()
	_, openA := <-a.Events()
	_, openB := <-b.Events()
	assert.False(t, openA)
	assert.False(t, openB)

	e := bus.Publish(KindError, nil)
	assert.Zero(t, e.Seq, "publish on closed bus is a no-op")
}

func TestHubSeparatesExperiments(t *testing.T) {
	hub := NewHub()
	a := hub.Get("exp-a")
	b := hub.Get("exp-b")
	require.NotSame(t, a, b)
	assert.Same(t, a, hub.Get("exp-a"))

	sub, _ := a.Subscribe(1)
	hub.Remove("exp-a")
	_, open := <-sub.Events()
	assert.False(t, open)

	// Removed experiment gets a fresh bus on next Get.
	assert.NotSame(t, a, hub.Get("exp-a"))
}

func TestMinVerbosityUnknownKindDefaultsHigh(t *testing.T) {
	assert.Equal(t, VerbosityMax, MinVerbosity(Kind("mystery")))
}
