// Package events fans agent lifecycle events out to interested consumers.
//
// The agent emits events as it discovers violations, runs fixes, and scans.
// Sinks must never block the emitter: slow or absent consumers drop events
// rather than stall remediation work.
package events

import (
	"sync"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/types"
)

// Sink receives agent events. Implementations must not block.
type Sink interface {
	Publish(event *types.AgentEvent)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event *types.AgentEvent)

// Publish calls the wrapped function.
func (f SinkFunc) Publish(event *types.AgentEvent) {
	f(event)
}

// Broadcaster fans events out to subscriber channels. Subscribers that fall
// behind lose events: delivery is non-blocking and drops on a full channel.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]chan *types.AgentEvent
	nextID      int
	closed      bool
	logger      *logging.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan *types.AgentEvent),
		logger:      logging.ComponentLogger("events"),
	}
}

// Subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function. The channel is buffered; events beyond the buffer are
// dropped for that subscriber only.
func (b *Broadcaster) Subscribe(buffer int) (<-chan *types.AgentEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *types.AgentEvent, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber without blocking.
func (b *Broadcaster) Publish(event *types.AgentEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warnf("Subscriber %d full, dropping %s event", id, event.Type)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes all subscriber channels. Publish becomes a no-op afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Multi composes several sinks into one. Each event goes to every sink in
// registration order.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a composite sink.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Publish forwards the event to every composed sink.
func (m *Multi) Publish(event *types.AgentEvent) {
	for _, s := range m.sinks {
		s.Publish(event)
	}
}
