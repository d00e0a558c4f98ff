package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fence is the short-lived idempotency marker used to suppress duplicate End
// processing for a room. Two Ends arriving within the fence TTL resolve to a
// single winner; the TTL bounds the marker's lifetime so a crashed winner
// cannot wedge the room.
type Fence interface {
	// TryAcquire atomically checks-and-sets the marker for key. Returns true
	// for the winner, false when the marker is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisFence implements Fence with SET NX PX.
type RedisFence struct {
	rdb *redis.Client
}

func NewRedisFence(rdb *redis.Client) *RedisFence {
	return &RedisFence{rdb: rdb}
}

func (f *RedisFence) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("call: fence key is required")
	}
	ok, err := f.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("call: fence acquire %s: %w", key, err)
	}
	return ok, nil
}

// MemoryFence is the in-process Fence used by tests.
type MemoryFence struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
}

func NewMemoryFence() *MemoryFence {
	return &MemoryFence{entries: make(map[string]time.Time), clock: time.Now}
}

// SetClock overrides the expiry clock for tests.
func (f *MemoryFence) SetClock(clock func() time.Time) { f.clock = clock }

func (f *MemoryFence) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock()
	if exp, ok := f.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	f.entries[key] = now.Add(ttl)
	return true, nil
}
