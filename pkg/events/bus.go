package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is considered dead and is purged on the next
// broadcast.
const subscriberBuffer = 256

// Subscriber is one consumer of an experiment's event stream. Events are
// delivered on a buffered channel in emission order.
type Subscriber struct {
	ID string
	ch chan Event

	mu        sync.Mutex
	verbosity int
	closed    bool
}

// Events returns the delivery channel. It is closed when the subscriber is
// removed from the bus.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Verbosity returns the current verbosity level.
func (s *Subscriber) Verbosity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verbosity
}

// SetVerbosity changes the filtering level. Events already skipped are not
// redelivered.
func (s *Subscriber) SetVerbosity(v int) error {
	if v < VerbosityMin || v > VerbosityMax {
		return fmt.Errorf("verbosity must be %d..%d, got %d", VerbosityMin, VerbosityMax, v)
	}
	s.mu.Lock()
	s.verbosity = v
	s.mu.Unlock()
	return nil
}

// close marks the subscriber dead and closes its channel. Idempotent.
func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer delivers an event if the subscriber's verbosity admits it. Returns
// false when the subscriber is dead or its buffer is full, signalling the
// bus to purge it.
func (s *Subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.verbosity < e.MinVerbosity {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// Bus is the per-experiment event stream. One orchestrator instance owns
// each bus; publishes are serialized per experiment so sequence numbers
// and delivery order match emission order.
type Bus struct {
	experimentID string

	mu     sync.Mutex
	seq    int64
	subs   map[string]*Subscriber
	closed bool
}

// NewBus creates a bus for one experiment.
func NewBus(experimentID string) *Bus {
	return &Bus{
		experimentID: experimentID,
		subs:         make(map[string]*Subscriber),
	}
}

// Subscribe registers a new subscriber at the given verbosity.
func (b *Bus) Subscribe(verbosity int) (*Subscriber, error) {
	if verbosity < VerbosityMin || verbosity > VerbosityMax {
		return nil, fmt.Errorf("verbosity must be %d..%d, got %d", VerbosityMin, VerbosityMax, verbosity)
	}
	s := &Subscriber{
		ID:        uuid.New().String(),
		ch:        make(chan Event, subscriberBuffer),
		verbosity: verbosity,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s, nil
	}
	b.subs[s.ID] = s
	return s, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s.ID)
	b.mu.Unlock()
	s.close()
}

// Publish assigns the next sequence number and broadcasts to all
// subscribers whose verbosity admits the event. Subscribers that cannot
// accept the event are purged.
func (b *Bus) Publish(kind Kind, payload map[string]any) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}
	}
	b.seq++
	e := Event{
		Seq:          b.seq,
		ExperimentID: b.experimentID,
		Kind:         kind,
		MinVerbosity: MinVerbosity(kind),
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}
	var dead []*Subscriber
	for _, s := range b.subs {
		if !s.offer(e) {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		delete(b.subs, s.ID)
	}
	b.mu.Unlock()

	for _, s := range dead {
		slog.Debug("Purged dead event subscriber",
			"experiment_id", b.experimentID, "subscriber_id", s.ID)
		s.close()
	}
	return e
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Hub owns the buses of all live experiments.
type Hub struct {
	mu    sync.Mutex
	buses map[string]*Bus
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{buses: make(map[string]*Bus)}
}

// Get returns the bus for an experiment, creating it if needed.
func (h *Hub) Get(experimentID string) *Bus {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buses[experimentID]
	if !ok {
		b = NewBus(experimentID)
		h.buses[experimentID] = b
	}
	return b
}

// Remove closes and drops an experiment's bus.
func (h *Hub) Remove(experimentID string) {
	h.mu.Lock()
	b, ok := h.buses[experimentID]
	delete(h.buses, experimentID)
	h.mu.Unlock()
	if ok {
		b.Close()
	}
}
