package call

// Status is the call-level lifecycle status.
//
// Transition table:
//
//	ringing  -> answered   (any participant answers; answered wins every race)
//	ringing  -> rejected   (one-to-one decline, or group all-declined)
//	ringing  -> missed     (no-answer timeout, or hang-up before any answer)
//	ringing  -> ended      (generic terminal fallback)
//	answered -> answered   (End on a live call keeps the answered outcome)
//
// Once a terminal status is reached it never reverts; in particular a later
// missed/rejected classification must not overwrite answered.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
	StatusRejected Status = "rejected"
	StatusMissed   Status = "missed"
	StatusEnded    Status = "ended"
)

var statusTransitions = map[Status][]Status{
	StatusRinging:  {StatusAnswered, StatusRejected, StatusMissed, StatusEnded},
	StatusAnswered: {StatusAnswered},
	StatusRejected: {},
	StatusMissed:   {},
	StatusEnded:    {},
}

// IsTerminal reports whether s is a terminal call outcome.
// answered is terminal for classification purposes (it never reverts), but a
// live answered call still accepts the one End transition that stamps EndedAt.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAnswered, StatusRejected, StatusMissed, StatusEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s -> next is a legal status move.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParticipantState is the per-user lifecycle tag within a session.
//
//	initiator -> answered | ended
//	ringing   -> answered | declined | missed | ended
//	answered  -> ended
type ParticipantState string

const (
	ParticipantInitiator ParticipantState = "initiator"
	ParticipantRinging   ParticipantState = "ringing"
	ParticipantAnswered  ParticipantState = "answered"
	ParticipantDeclined  ParticipantState = "declined"
	ParticipantMissed    ParticipantState = "missed"
	ParticipantEnded     ParticipantState = "ended"
)

var participantTransitions = map[ParticipantState][]ParticipantState{
	ParticipantInitiator: {ParticipantAnswered, ParticipantEnded},
	ParticipantRinging:   {ParticipantAnswered, ParticipantDeclined, ParticipantMissed, ParticipantEnded},
	ParticipantAnswered:  {ParticipantEnded},
	ParticipantDeclined:  {},
	ParticipantMissed:    {},
	ParticipantEnded:     {},
}

// IsTerminal reports whether the participant reached a final state.
func (p ParticipantState) IsTerminal() bool {
	switch p {
	case ParticipantDeclined, ParticipantMissed, ParticipantEnded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether p -> next is a legal participant move.
func (p ParticipantState) CanTransition(next ParticipantState) bool {
	for _, allowed := range participantTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
