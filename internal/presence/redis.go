package presence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounters stores unread counts and typing flags in redis. Counter
// mutations run as Lua so increment-plus-TTL and clamped decrement are each
// one atomic step.
type RedisCounters struct {
	rdb       *redis.Client
	unreadTTL time.Duration
}

func NewRedisCounters(rdb *redis.Client, unreadTTL time.Duration) *RedisCounters {
	if unreadTTL <= 0 {
		unreadTTL = DefaultUnreadTTL
	}
	return &RedisCounters{rdb: rdb, unreadTTL: unreadTTL}
}

var unreadIncrScript = redis.NewScript(`
-- KEYS[1] = unread counter key
-- ARGV[1] = ttl_ms (int)
--
-- Returns the new count.
local current = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return current
`)

var unreadDecrScript = redis.NewScript(`
-- KEYS[1] = unread counter key
-- ARGV[1] = amount (int)
--
-- Clamp at zero: a decrement racing a clear must not leave a negative count.
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
if amount >= current then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECRBY', KEYS[1], amount)
`)

func (c *RedisCounters) IncrementUnread(ctx context.Context, userID, conversationID string) (int64, error) {
	return unreadIncrScript.Run(ctx, c.rdb, []string{unreadKey(userID, conversationID)}, c.unreadTTL.Milliseconds()).Int64()
}

func (c *RedisCounters) DecrementUnread(ctx context.Context, userID, conversationID string, by int64) (int64, error) {
	if by <= 0 {
		return c.Unread(ctx, userID, conversationID)
	}
	return unreadDecrScript.Run(ctx, c.rdb, []string{unreadKey(userID, conversationID)}, by).Int64()
}

func (c *RedisCounters) ClearUnread(ctx context.Context, userID, conversationID string) error {
	return c.rdb.Del(ctx, unreadKey(userID, conversationID)).Err()
}

func (c *RedisCounters) Unread(ctx context.Context, userID, conversationID string) (int64, error) {
	n, err := c.rdb.Get(ctx, unreadKey(userID, conversationID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (c *RedisCounters) SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return c.rdb.Set(ctx, typingKey(conversationID, userID), "1", ttl).Err()
}

func (c *RedisCounters) ClearTyping(ctx context.Context, conversationID, userID string) error {
	return c.rdb.Del(ctx, typingKey(conversationID, userID)).Err()
}

func (c *RedisCounters) Typing(ctx context.Context, conversationID, userID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, typingKey(conversationID, userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
