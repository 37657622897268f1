// Package eventbus is a small in-memory fanout used to decouple the
// scheduler/executor from the monitor, notifier and audit sinks.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST drain their channel; slow subscribers drop events.
//   - Payloads should be small and JSON-serializable.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the engine.
const (
	TopicExecutionFinished = "execution.finished"
	TopicAlertRaised       = "alert.raised"
)

type Event struct {
	Topic   string
	At      time.Time
	Payload any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered subscriber. When topics is empty the
	// subscriber receives every event. The returned cancel func is
	// idempotent and closes the channel.
	Subscribe(buffer int, topics ...string) (<-chan Event, func())
}

type subscriber struct {
	ch     chan Event
	topics map[string]struct{} // nil = all
}

func (s *subscriber) wants(topic string) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	next atomic.Uint64

	dropped atomic.Uint64
}

// New returns an in-memory bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

func (b *memBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	// Sends happen under the read lock so an Unsubscribe (write lock)
	// can never close a channel mid-send. Sends are non-blocking, so the
	// lock is held only briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Topic) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}

	id := b.next.Add(1)
	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// Dropped reports lifetime dropped events, for diagnostics.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}
