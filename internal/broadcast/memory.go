package broadcast

import (
	"context"
	"sync"

	"github.com/kevin101681/cascadeconnect-sub000/internal/logger"
)

// MemoryBroker implements Broker in process, for -dev mode without Redis
// and for tests. Same at-most-once, drop-on-full semantics as the Redis
// broker.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev Event) error {
	b.mu.RLock()
	targets := make([]*memorySubscription, 0, len(b.subs))
	for s := range b.subs {
		if s.bound(topic) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(topic, ev)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		topics: make(map[string]struct{}),
		events: make(chan Event, subscriptionBuffer),
	}
	b.mu.Lock()
	if !b.closed {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*memorySubscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

func (b *MemoryBroker) drop(s *memorySubscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

type memorySubscription struct {
	broker *MemoryBroker

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
	events chan Event
}

func (s *memorySubscription) bound(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok && !s.closed
}

func (s *memorySubscription) deliver(topic string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		logger.Errorf("broadcast subscriber buffer full, dropping event topic=%s", topic)
	}
}

func (s *memorySubscription) Bind(ctx context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return nil
}

func (s *memorySubscription) Unbind(ctx context.Context, topics ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
	return nil
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.broker.drop(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
