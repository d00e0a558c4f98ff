package call

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store with the same conditional
// semantics as the postgres implementation. Used by unit tests and dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.RoomID]; ok {
		return ErrExists
	}
	cp := cloneSession(s)
	m.sessions[s.RoomID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(*s), nil
}

func (m *MemoryStore) SetParticipantState(ctx context.Context, roomID, userID string, to ParticipantState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return ErrNotFound
	}
	if s.Terminated() {
		return ErrTerminal
	}
	for i := range s.Participants {
		if s.Participants[i].UserID != userID {
			continue
		}
		if !s.Participants[i].State.CanTransition(to) {
			return ErrTerminal
		}
		s.Participants[i].State = to
		s.Participants[i].UpdatedAt = at
		s.UpdatedAt = at
		return nil
	}
	return ErrNotParticipant
}

func (m *MemoryStore) MarkAnswered(ctx context.Context, roomID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusAnswered {
		return nil
	}
	if s.Terminated() || !s.Status.CanTransition(StatusAnswered) {
		return ErrTerminal
	}
	s.Status = StatusAnswered
	s.UpdatedAt = at
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, roomID string, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return ErrNotFound
	}
	s.Events = append(s.Events, e)
	s.UpdatedAt = e.Timestamp
	return nil
}

func (m *MemoryStore) Terminate(ctx context.Context, roomID string, status Status, reason, endedBy string, at time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Terminated() {
		return Session{}, ErrTerminal
	}
	if !s.Status.CanTransition(status) {
		return Session{}, ErrTerminal
	}
	for i := range s.Participants {
		p := &s.Participants[i]
		if p.UserID == s.InitiatorID {
			continue
		}
		if p.State == ParticipantRinging {
			p.State = ParticipantMissed
			p.UpdatedAt = at
		}
	}
	ended := at
	s.Status = status
	s.EndedAt = &ended
	s.EndReason = reason
	s.EndedBy = endedBy
	s.UpdatedAt = at
	return cloneSession(*s), nil
}

func cloneSession(s Session) Session {
	out := s
	out.Participants = append([]Participant(nil), s.Participants...)
	out.Events = append([]Event(nil), s.Events...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	return out
}
