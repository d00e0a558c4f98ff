package history

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("history: not found")
	ErrDuplicate = errors.New("history: duplicate call-outcome message")
)

const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"

	MessageTypeCall = "call"
)

// Conversation is the narrow slice of the conversation record the
// coordinator touches: the participant set and the summary fields.
type Conversation struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ParticipantIDs []string  `json:"participant_ids"`

	LastMessage     string    `json:"last_message"`
	LastMessageType string    `json:"last_message_type"`
	LastMessageAt   time.Time `json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is the permanent call-outcome entry: exactly one per terminated
// call, enforced by the (conversation_id, room_id) uniqueness constraint.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	RoomID         string `json:"room_id"`
	SenderID       string `json:"sender_id"`

	Type string `json:"type"`
	Body string `json:"body"`

	CallStatus      string `json:"call_status"`
	MediaType       string `json:"media_type"`
	DurationSeconds int    `json:"duration"`

	CreatedAt time.Time  `json:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
