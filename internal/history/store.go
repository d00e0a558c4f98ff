package history

import (
	"context"
	"time"
)

// ConversationStore is the coordinator's contract with the conversation
// collection. UpdateSummary must be newest-wins: an older call event never
// overwrites a newer lastMessageAt.
type ConversationStore interface {
	Get(ctx context.Context, id string) (Conversation, error)

	// FindDirectByParticipants matches a direct conversation holding exactly
	// this participant set, regardless of order.
	FindDirectByParticipants(ctx context.Context, participantIDs []string) (Conversation, error)

	Create(ctx context.Context, c Conversation) error

	// UpdateSummary conditionally sets lastMessage/lastMessageType/lastMessageAt
	// only when at is not older than the stored lastMessageAt.
	UpdateSummary(ctx context.Context, id, lastMessage, lastMessageType string, at time.Time) error
}

// MessageStore persists call-outcome messages.
type MessageStore interface {
	// InsertCallOutcome returns ErrDuplicate when a message already exists
	// for (conversationID, roomID); callers fetch and reuse it.
	InsertCallOutcome(ctx context.Context, m Message) error

	GetCallOutcome(ctx context.Context, conversationID, roomID string) (Message, error)
}
