package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nodeflow-ai/nodeflow/internal/pkg/metrics"
)

// DefaultQueueDepth bounds each subscriber's buffer when no depth is given.
const DefaultQueueDepth = 256

// Subscription is one listener's bounded event queue. Consume from C; when
// the queue overflows the oldest event is dropped and Backpressure reports
// true from then on.
type Subscription struct {
	C chan Event

	bus    *Bus
	execID *uuid.UUID // nil subscribes to all executions

	mu      sync.Mutex
	dropped bool
	closed  bool
}

// Backpressure reports whether this subscriber has ever lost an event.
func (s *Subscription) Backpressure() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// push enqueues without blocking the publisher. On a full queue the oldest
// buffered event is discarded first.
func (s *Subscription) push(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.C <- event:
			return
		default:
		}
		select {
		case <-s.C:
			s.dropped = true
			metrics.EventsDropped.Inc()
		default:
		}
	}
}

// Sink receives every published event synchronously, before subscriber
// fan-out. Used for external delivery such as Redis pub/sub.
type Sink interface {
	Deliver(event Event)
}

// Bus fans lifecycle events out to subscribers. Publishing never blocks on
// a slow consumer.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*Subscription]struct{}
	sinks      []Sink
	queueDepth int
}

func NewBus(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		queueDepth: queueDepth,
	}
}

// AddSink registers a synchronous delivery sink.
func (b *Bus) AddSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Subscribe returns a subscription for one execution, or for all executions
// when execID is nil.
func (b *Bus) Subscribe(execID *uuid.UUID) *Subscription {
	sub := &Subscription{
		C:      make(chan Event, b.queueDepth),
		bus:    b,
		execID: execID,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
}

// Publish delivers an event to every matching subscriber and sink.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	sinks := b.sinks
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.execID == nil || *sub.execID == event.ExecutionID {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink.Deliver(event)
	}
	for _, sub := range subs {
		sub.push(event)
	}

	log.Debug().
		Str("event_type", string(event.Type)).
		Str("execution_id", event.ExecutionID.String()).
		Str("node_id", event.NodeID).
		Msg("event published")
}
