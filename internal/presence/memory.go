package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryCounters is the in-process Counters used by tests. TTLs are honored
// against an injectable clock.
type MemoryCounters struct {
	mu     sync.Mutex
	unread map[string]int64
	typing map[string]time.Time
	clock  func() time.Time
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		unread: make(map[string]int64),
		typing: make(map[string]time.Time),
		clock:  time.Now,
	}
}

// SetClock overrides the expiry clock for tests.
func (c *MemoryCounters) SetClock(clock func() time.Time) { c.clock = clock }

func (c *MemoryCounters) IncrementUnread(ctx context.Context, userID, conversationID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := unreadKey(userID, conversationID)
	c.unread[key]++
	return c.unread[key], nil
}

func (c *MemoryCounters) DecrementUnread(ctx context.Context, userID, conversationID string, by int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := unreadKey(userID, conversationID)
	if by <= 0 {
		return c.unread[key], nil
	}
	if by >= c.unread[key] {
		delete(c.unread, key)
		return 0, nil
	}
	c.unread[key] -= by
	return c.unread[key], nil
}

func (c *MemoryCounters) ClearUnread(ctx context.Context, userID, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.unread, unreadKey(userID, conversationID))
	return nil
}

func (c *MemoryCounters) Unread(ctx context.Context, userID, conversationID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread[unreadKey(userID, conversationID)], nil
}

func (c *MemoryCounters) SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing[typingKey(conversationID, userID)] = c.clock().Add(ttl)
	return nil
}

func (c *MemoryCounters) ClearTyping(ctx context.Context, conversationID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.typing, typingKey(conversationID, userID))
	return nil
}

func (c *MemoryCounters) Typing(ctx context.Context, conversationID, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.typing[typingKey(conversationID, userID)]
	if !ok {
		return false, nil
	}
	if c.clock().After(exp) {
		delete(c.typing, typingKey(conversationID, userID))
		return false, nil
	}
	return true, nil
}
