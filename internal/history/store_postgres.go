package history

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"encoding/json"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresConversationStore reads and narrowly updates the conversations
// table owned by the rest of the application.
//
// Direct-conversation matching uses a canonical participant key (sorted,
// comma-joined user ids) so the exact participant set matches regardless of
// invite order.
type PostgresConversationStore struct {
	db *sql.DB
}

func NewPostgresConversationStore(db *sql.DB) *PostgresConversationStore {
	return &PostgresConversationStore{db: db}
}

func (s *PostgresConversationStore) Get(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT id, kind, participant_ids, last_message, last_message_type, last_message_at, created_at, updated_at
FROM conversations
WHERE id = $1
`
	return scanConversation(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresConversationStore) FindDirectByParticipants(ctx context.Context, participantIDs []string) (Conversation, error) {
	const q = `
SELECT id, kind, participant_ids, last_message, last_message_type, last_message_at, created_at, updated_at
FROM conversations
WHERE kind = 'direct' AND participant_key = $1
`
	return scanConversation(s.db.QueryRowContext(ctx, q, ParticipantKey(participantIDs)))
}

func (s *PostgresConversationStore) Create(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (id, kind, participant_ids, participant_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
`
	ids, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, c.ID, c.Kind, ids, ParticipantKey(c.ParticipantIDs), c.CreatedAt)
	return err
}

func (s *PostgresConversationStore) UpdateSummary(ctx context.Context, id, lastMessage, lastMessageType string, at time.Time) error {
	// Newest-wins: a retried termination for an older call must not clobber
	// a newer conversation event.
	const q = `
UPDATE conversations
SET last_message = $2, last_message_type = $3, last_message_at = $4, updated_at = $4
WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $4)
`
	_, err := s.db.ExecContext(ctx, q, id, lastMessage, lastMessageType, at)
	return err
}

// PostgresMessageStore persists call-outcome messages. The messages table
// carries UNIQUE (conversation_id, room_id) for call rows, which is what
// makes retried terminations collapse into one record.
type PostgresMessageStore struct {
	db *sql.DB
}

func NewPostgresMessageStore(db *sql.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

func (s *PostgresMessageStore) InsertCallOutcome(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, room_id, sender_id, type, body, call_status, media_type, duration_seconds, created_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := s.db.ExecContext(ctx, q,
		m.ID, m.ConversationID, m.RoomID, m.SenderID,
		m.Type, m.Body, m.CallStatus, m.MediaType, m.DurationSeconds,
		m.CreatedAt, m.EndedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *PostgresMessageStore) GetCallOutcome(ctx context.Context, conversationID, roomID string) (Message, error) {
	const q = `
SELECT id, conversation_id, room_id, sender_id, type, body, call_status, media_type, duration_seconds, created_at, ended_at
FROM messages
WHERE conversation_id = $1 AND room_id = $2
`
	var m Message
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, q, conversationID, roomID).Scan(
		&m.ID, &m.ConversationID, &m.RoomID, &m.SenderID,
		&m.Type, &m.Body, &m.CallStatus, &m.MediaType, &m.DurationSeconds,
		&m.CreatedAt, &endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		m.EndedAt = &t
	}
	return m, nil
}

// ParticipantKey canonicalizes a participant set for exact-set matching.
func ParticipantKey(participantIDs []string) string {
	ids := append([]string(nil), participantIDs...)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func scanConversation(row *sql.Row) (Conversation, error) {
	var c Conversation
	var ids []byte
	var lastMessage, lastMessageType sql.NullString
	var lastMessageAt sql.NullTime
	if err := row.Scan(
		&c.ID, &c.Kind, &ids,
		&lastMessage, &lastMessageType, &lastMessageAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &c.ParticipantIDs); err != nil {
			return Conversation{}, err
		}
	}
	c.LastMessage = lastMessage.String
	c.LastMessageType = lastMessageType.String
	if lastMessageAt.Valid {
		c.LastMessageAt = lastMessageAt.Time
	}
	return c, nil
}
