package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(types.NewAgentStatusEvent("running", "started"))

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, types.EventTypeAgentStatus, ev1.Type)
	assert.Equal(t, types.EventTypeAgentStatus, ev2.Type)
}

func TestBroadcasterDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(types.NewAgentStatusEvent("running", "first"))
	b.Publish(types.NewAgentStatusEvent("paused", "second")) // dropped, buffer full

	ev := <-ch
	assert.Equal(t, "first", ev.Message)

	select {
	case extra := <-ch:
		t.Fatalf("expected no second event, got %q", extra.Message)
	default:
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, unsub := b.Subscribe(4)
	require.Equal(t, 1, b.SubscriberCount())

	unsub()
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe does not panic.
	b.Publish(types.NewAgentStatusEvent("running", "after"))
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe(4)

	b.Close()

	_, open := <-ch
	assert.False(t, open)

	// Close is idempotent and Publish becomes a no-op.
	b.Close()
	b.Publish(types.NewAgentStatusEvent("stopped", "done"))

	// Subscribing after close yields a closed channel.
	late, _ := b.Subscribe(4)
	_, open = <-late
	assert.False(t, open)
}

func TestBroadcasterNilEventIgnored(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(nil)

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %v", ev)
	default:
	}
}

func TestMultiForwardsToEverySink(t *testing.T) {
	var got []string
	first := SinkFunc(func(e *types.AgentEvent) { got = append(got, "first:"+string(e.Type)) })
	second := SinkFunc(func(e *types.AgentEvent) { got = append(got, "second:"+string(e.Type)) })

	m := NewMulti(first, second)
	m.Publish(types.NewFixStartedEvent("v1", "a1", "Toolkit Repair"))

	require.Len(t, got, 2)
	assert.Equal(t, "first:fix_started", got[0])
	assert.Equal(t, "second:fix_started", got[1])
}
