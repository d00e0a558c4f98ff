package signal

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node runs.
// Subscriber channels are buffered; a full subscriber drops the message,
// matching the best-effort delivery contract of the redis implementation.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}

	// Published retains everything published, for test assertions.
	pubMu     sync.Mutex
	published []Message
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, ev Event) error {
	b.pubMu.Lock()
	b.published = append(b.published, Message{Topic: topic, Event: ev})
	b.pubMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[topic] {
		select {
		case s.out <- Message{Topic: topic, Event: ev}:
		default:
		}
	}
	return nil
}

// Published returns a copy of everything published so far.
func (b *MemoryBus) Published() []Message {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedTo filters Published by topic.
func (b *MemoryBus) PublishedTo(topic string) []Message {
	var out []Message
	for _, m := range b.Published() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (b *MemoryBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	s := &memorySubscription{
		bus: b,
		out: make(chan Message, 64),
	}
	b.mu.Lock()
	for _, t := range topics {
		b.attach(t, s)
	}
	b.mu.Unlock()
	return s, nil
}

// attach requires b.mu held.
func (b *MemoryBus) attach(topic string, s *memorySubscription) {
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*memorySubscription]struct{})
		b.subs[topic] = set
	}
	set[s] = struct{}{}
}

type memorySubscription struct {
	bus *MemoryBus
	out chan Message

	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Add(ctx context.Context, topics ...string) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for _, t := range topics {
		s.bus.attach(t, s)
	}
	return nil
}

func (s *memorySubscription) Remove(ctx context.Context, topics ...string) error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for _, t := range topics {
		delete(s.bus.subs[t], s)
	}
	return nil
}

func (s *memorySubscription) Close() error {
	s.bus.mu.Lock()
	for _, set := range s.bus.subs {
		delete(set, s)
	}
	s.bus.mu.Unlock()
	s.closeOnce.Do(func() { close(s.out) })
	return nil
}
