package presence

import (
	"context"
	"log/slog"
	"time"

	"messenger-platform/internal/history"
	"messenger-platform/internal/signal"
)

const (
	// DefaultUnreadTTL caps how long an untouched unread counter survives.
	DefaultUnreadTTL = 30 * 24 * time.Hour

	// DefaultTypingTTL is the lifetime of one typing flag; clients refresh it
	// while the user keeps typing.
	DefaultTypingTTL = 6 * time.Second
)

// Counters is the per-user unread and typing state. Counts never go below
// zero regardless of decrement ordering.
type Counters interface {
	IncrementUnread(ctx context.Context, userID, conversationID string) (int64, error)
	DecrementUnread(ctx context.Context, userID, conversationID string, by int64) (int64, error)
	ClearUnread(ctx context.Context, userID, conversationID string) error
	Unread(ctx context.Context, userID, conversationID string) (int64, error)

	SetTyping(ctx context.Context, conversationID, userID string, ttl time.Duration) error
	ClearTyping(ctx context.Context, conversationID, userID string) error
	Typing(ctx context.Context, conversationID, userID string) (bool, error)
}

// Bridge ties connection lifecycle and message traffic to presence
// broadcasts and unread counters. MarkOnline, MarkOffline and MarkRead are
// driven by the websocket gateway and the REST layer; OnMessage and SetTyping
// (and the partial-decrement path on Counters) are the hooks a
// message-ingestion service calls when it routes chat traffic, so nothing
// inside this process reaches them.
type Bridge struct {
	counters Counters
	bus      signal.Bus
	log      *slog.Logger

	clock func() time.Time
}

func NewBridge(counters Counters, bus signal.Bus, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{counters: counters, bus: bus, log: log, clock: time.Now}
}

// SetClock overrides the bridge clock for deterministic tests.
func (b *Bridge) SetClock(clock func() time.Time) { b.clock = clock }

// MarkOnline announces userID on the presence topic. Called on gateway
// connect.
func (b *Bridge) MarkOnline(ctx context.Context, userID string) {
	b.broadcast(ctx, signal.EventPresenceOnline, userID)
}

// MarkOffline announces the disconnect. Called on gateway teardown.
func (b *Bridge) MarkOffline(ctx context.Context, userID string) {
	b.broadcast(ctx, signal.EventPresenceOffline, userID)
}

func (b *Bridge) broadcast(ctx context.Context, eventType, userID string) {
	ev := signal.Event{
		Type: eventType,
		From: userID,
		At:   b.clock().UTC(),
	}
	if err := b.bus.Publish(ctx, signal.PresenceTopic(), ev); err != nil {
		b.log.Warn("presence: broadcast failed", "type", eventType, "user_id", userID, "err", err)
	}
}

// OnMessage bumps the unread counter of every recipient. Call-outcome
// messages are history markers, not chat traffic, and never count as unread.
func (b *Bridge) OnMessage(ctx context.Context, conversationID, senderID, messageType string, participantIDs []string) {
	if messageType == history.MessageTypeCall {
		return
	}
	for _, userID := range participantIDs {
		if userID == senderID {
			continue
		}
		if _, err := b.counters.IncrementUnread(ctx, userID, conversationID); err != nil {
			b.log.Warn("presence: unread increment failed", "user_id", userID, "conversation_id", conversationID, "err", err)
		}
	}
}

// MarkRead clears userID's unread counter for the conversation.
func (b *Bridge) MarkRead(ctx context.Context, userID, conversationID string) {
	if err := b.counters.ClearUnread(ctx, userID, conversationID); err != nil {
		b.log.Warn("presence: unread clear failed", "user_id", userID, "conversation_id", conversationID, "err", err)
	}
}

// SetTyping raises the typing flag and tells the other participants.
func (b *Bridge) SetTyping(ctx context.Context, conversationID, userID string, participantIDs []string) {
	if err := b.counters.SetTyping(ctx, conversationID, userID, DefaultTypingTTL); err != nil {
		b.log.Warn("presence: typing flag failed", "user_id", userID, "err", err)
	}
	ev := signal.Event{
		Type: signal.EventTyping,
		From: userID,
		Payload: map[string]any{
			"conversation_id": conversationID,
		},
		At: b.clock().UTC(),
	}
	for _, id := range participantIDs {
		if id == userID {
			continue
		}
		if err := b.bus.Publish(ctx, signal.UserTopic(id), ev); err != nil {
			b.log.Warn("presence: typing publish failed", "user_id", id, "err", err)
		}
	}
}

func unreadKey(userID, conversationID string) string {
	return "unread:" + userID + ":" + conversationID
}

func typingKey(conversationID, userID string) string {
	return "typing:" + conversationID + ":" + userID
}
