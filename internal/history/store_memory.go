package history

import (
	"context"
	"sync"
	"time"
)

// MemoryConversationStore is the in-memory ConversationStore used by tests.
type MemoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{conversations: make(map[string]*Conversation)}
}

// Put seeds a conversation (e.g. an existing group) for tests.
func (s *MemoryConversationStore) Put(c Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.conversations[c.ID] = &cp
}

func (s *MemoryConversationStore) Get(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (s *MemoryConversationStore) FindDirectByParticipants(ctx context.Context, participantIDs []string) (Conversation, error) {
	key := ParticipantKey(participantIDs)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		if c.Kind == ConversationDirect && ParticipantKey(c.ParticipantIDs) == key {
			return *c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (s *MemoryConversationStore) Create(ctx context.Context, c Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.conversations[c.ID] = &cp
	return nil
}

func (s *MemoryConversationStore) UpdateSummary(ctx context.Context, id, lastMessage, lastMessageType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	if !c.LastMessageAt.IsZero() && c.LastMessageAt.After(at) {
		return nil // newest wins
	}
	c.LastMessage = lastMessage
	c.LastMessageType = lastMessageType
	c.LastMessageAt = at
	c.UpdatedAt = at
	return nil
}

// MemoryMessageStore is the in-memory MessageStore used by tests.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string]Message // (conversationID, roomID) -> message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]Message)}
}

func (s *MemoryMessageStore) InsertCallOutcome(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := m.ConversationID + "\x00" + m.RoomID
	if _, ok := s.messages[key]; ok {
		return ErrDuplicate
	}
	s.messages[key] = m
	return nil
}

func (s *MemoryMessageStore) GetCallOutcome(ctx context.Context, conversationID, roomID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[conversationID+"\x00"+roomID]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

// All returns every stored message, for test assertions.
func (s *MemoryMessageStore) All() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	return out
}
