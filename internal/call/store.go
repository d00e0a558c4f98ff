package call

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("call: session not found")
	ErrExists          = errors.New("call: session already exists")
	ErrTerminal        = errors.New("call: session already terminal")
	ErrInvalidArgument = errors.New("call: invalid argument")
	ErrNotParticipant  = errors.New("call: user is not a participant")
)

// Store is the persistence contract for call sessions.
//
// All mutation goes through narrow, field-scoped conditional operations keyed
// by room id (and user id for participant updates) rather than whole-document
// read-modify-write. The store is the single source of truth for a room; the
// terminal-state check inside Terminate is one of the two mechanisms (with
// the ending fence) that make racing terminations converge.
type Store interface {
	// Create inserts a new session. Returns ErrExists when a live session
	// already holds the room id; callers re-read and attach.
	Create(ctx context.Context, s Session) error

	Get(ctx context.Context, roomID string) (Session, error)

	// SetParticipantState transitions one participant, enforcing the
	// participant transition table and refusing any change once the session
	// is terminated. Returns ErrTerminal on an illegal or post-terminal
	// transition, ErrNotParticipant when userID was never invited.
	SetParticipantState(ctx context.Context, roomID, userID string, to ParticipantState, at time.Time) error

	// MarkAnswered escalates call-level status ringing -> answered. A session
	// already answered is a no-op; anything else terminal returns ErrTerminal.
	// Answered precedence: once set, no later classification overwrites it.
	MarkAnswered(ctx context.Context, roomID string, at time.Time) error

	// AppendEvent appends to the session's audit trail. Append-only: there is
	// no operation to mutate or reorder recorded events.
	AppendEvent(ctx context.Context, roomID string, e Event) error

	// Terminate finalizes the session: sets status/endedAt/endReason/endedBy
	// and marks every still-ringing non-initiator participant missed, all
	// conditional on the session not already being terminated. Returns the
	// finalized session, or ErrTerminal when another path won the race.
	Terminate(ctx context.Context, roomID string, status Status, reason, endedBy string, at time.Time) (Session, error)
}
