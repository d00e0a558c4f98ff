package call

import "time"

// MediaType distinguishes voice from video calls.
type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

func (m MediaType) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// metadata key identifying an enclosing multi-party conversation.
// Its presence switches decline/timeout semantics to group-call rules.
const MetaGroupConversationID = "group_conversation_id"

// Participant is one invited user's slice of a session.
// The array index is the user id: a user appears at most once.
type Participant struct {
	UserID    string           `json:"user_id"`
	State     ParticipantState `json:"state"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Event is one entry of the session's append-only audit trail.
// Entries are never mutated or reordered.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is the durable record of one call attempt, keyed by RoomID.
// Exactly one session exists per live room id; the coordinator never
// deletes it (retention is an external concern).
type Session struct {
	RoomID      string            `json:"room_id"`
	InitiatorID string            `json:"initiator_id"`
	Participants []Participant    `json:"participants"`
	MediaType   MediaType         `json:"media_type"`
	Status      Status            `json:"status"`
	Events      []Event           `json:"events"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	EndedBy   string     `json:"ended_by,omitempty"`
}

// Participant returns the entry for userID, if invited.
func (s *Session) Participant(userID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantIDs returns the invited user ids in invite order.
func (s *Session) ParticipantIDs() []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p.UserID)
	}
	return out
}

// GroupConversationID returns the enclosing group conversation id, if any.
func (s *Session) GroupConversationID() string {
	return s.Metadata[MetaGroupConversationID]
}

// IsGroup reports whether group-call decline/timeout rules apply.
func (s *Session) IsGroup() bool {
	return s.GroupConversationID() != ""
}

// Terminated reports whether the session has reached its end of life.
// EndedAt is set if and only if the status is terminal.
func (s *Session) Terminated() bool {
	return s.EndedAt != nil
}

// Answered reports whether any participant reached the answered state.
func (s *Session) Answered() bool {
	if s.Status == StatusAnswered {
		return true
	}
	for _, p := range s.Participants {
		if p.State == ParticipantAnswered {
			return true
		}
	}
	return false
}

// AllOthersResolved reports whether every non-initiator participant has
// declined or ended. Group calls auto-terminate when this becomes true.
func (s *Session) AllOthersResolved() bool {
	for _, p := range s.Participants {
		if p.UserID == s.InitiatorID {
			continue
		}
		if p.State != ParticipantDeclined && p.State != ParticipantEnded {
			return false
		}
	}
	return true
}

// Duration is the wall-clock span from creation to termination.
// Zero until the session terminates.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.CreatedAt)
}
