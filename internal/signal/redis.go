package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus over Redis Pub/Sub. Delivery is at-most-once and
// best-effort, which is the contract the coordinator wants: an invite that
// reaches nobody still resolves via the timeout path.
type RedisBus struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBus(rdb *redis.Client, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, ev Event) error {
	if topic == "" {
		return fmt.Errorf("signal: topic is required")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("signal: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic, raw).Err(); err != nil {
		return fmt.Errorf("signal: publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("signal: at least one topic is required")
	}
	ps := b.rdb.Subscribe(ctx, topics...)
	// Force the subscribe round-trip so a bad connection fails here, not on
	// the first missed message.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("signal: subscribe: %w", err)
	}

	sub := &redisSubscription{
		ps:  ps,
		out: make(chan Message, 64),
		log: b.log,
	}
	go sub.pump()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan Message
	log *slog.Logger
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			s.log.Warn("signal: dropping undecodable event", "topic", m.Channel, "err", err)
			continue
		}
		s.out <- Message{Topic: m.Channel, Event: ev}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Add(ctx context.Context, topics ...string) error {
	return s.ps.Subscribe(ctx, topics...)
}

func (s *redisSubscription) Remove(ctx context.Context, topics ...string) error {
	return s.ps.Unsubscribe(ctx, topics...)
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
