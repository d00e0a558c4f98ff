package call

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusRinging, StatusAnswered, true},
		{StatusRinging, StatusRejected, true},
		{StatusRinging, StatusMissed, true},
		{StatusRinging, StatusEnded, true},
		{StatusAnswered, StatusAnswered, true},
		{StatusAnswered, StatusRinging, false},
		{StatusAnswered, StatusMissed, false},
		{StatusRejected, StatusAnswered, false},
		{StatusMissed, StatusRinging, false},
		{StatusEnded, StatusAnswered, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusRinging:  false,
		StatusAnswered: false,
		StatusRejected: true,
		StatusMissed:   true,
		StatusEnded:    true,
	}
	for st, want := range terminal {
		if got := st.IsTerminal(); got != want {
			t.Errorf("%s IsTerminal = %v, want %v", st, got, want)
		}
	}
}

func TestParticipantTransitions(t *testing.T) {
	cases := []struct {
		from, to ParticipantState
		ok       bool
	}{
		{ParticipantInitiator, ParticipantAnswered, true},
		{ParticipantInitiator, ParticipantEnded, true},
		{ParticipantInitiator, ParticipantDeclined, false},
		{ParticipantRinging, ParticipantAnswered, true},
		{ParticipantRinging, ParticipantDeclined, true},
		{ParticipantRinging, ParticipantMissed, true},
		{ParticipantAnswered, ParticipantEnded, true},
		{ParticipantAnswered, ParticipantRinging, false},
		{ParticipantDeclined, ParticipantAnswered, false},
		{ParticipantMissed, ParticipantAnswered, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestSessionHelpers(t *testing.T) {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	sess := Session{
		RoomID:      "r1",
		InitiatorID: "alice",
		Status:      StatusRinging,
		CreatedAt:   created,
		Participants: []Participant{
			{UserID: "alice", State: ParticipantInitiator},
			{UserID: "bob", State: ParticipantRinging},
			{UserID: "carol", State: ParticipantDeclined},
		},
	}

	if sess.IsGroup() {
		t.Fatal("session without metadata classified as group")
	}
	sess.Metadata = map[string]string{MetaGroupConversationID: "g1"}
	if !sess.IsGroup() || sess.GroupConversationID() != "g1" {
		t.Fatal("group metadata not detected")
	}

	if sess.AllOthersResolved() {
		t.Fatal("bob still ringing but AllOthersResolved true")
	}
	sess.Participants[1].State = ParticipantDeclined
	if !sess.AllOthersResolved() {
		t.Fatal("all non-initiators declined but AllOthersResolved false")
	}

	if sess.Terminated() || sess.Duration() != 0 {
		t.Fatal("live session reported terminated")
	}
	ended := created.Add(90 * time.Second)
	sess.EndedAt = &ended
	if !sess.Terminated() || sess.Duration() != 90*time.Second {
		t.Fatalf("duration = %s", sess.Duration())
	}

	if _, ok := sess.Participant("bob"); !ok {
		t.Fatal("bob not found")
	}
	if _, ok := sess.Participant("mallory"); ok {
		t.Fatal("stranger found")
	}
	ids := sess.ParticipantIDs()
	if len(ids) != 3 || ids[0] != "alice" {
		t.Fatalf("ids = %v", ids)
	}
}
