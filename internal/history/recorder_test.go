package history

import (
	"context"
	"testing"
	"time"

	"messenger-platform/internal/call"
	"messenger-platform/internal/directory"
	"messenger-platform/internal/signal"
)

func terminatedSession(status call.Status, media call.MediaType, dur time.Duration) call.Session {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	ended := created.Add(dur)
	return call.Session{
		RoomID:      "room-1",
		InitiatorID: "alice",
		Participants: []call.Participant{
			{UserID: "alice", State: call.ParticipantInitiator},
			{UserID: "bob", State: call.ParticipantMissed},
		},
		MediaType: media,
		Status:    status,
		CreatedAt: created,
		EndedAt:   &ended,
	}
}

func newTestRecorder(t *testing.T) (*Recorder, *MemoryConversationStore, *MemoryMessageStore, *signal.MemoryBus) {
	t.Helper()
	convs := NewMemoryConversationStore()
	msgs := NewMemoryMessageStore()
	dir := directory.NewMemoryDirectory()
	dir.Put(directory.User{ID: "alice", DisplayName: "Alice"})
	bus := signal.NewMemoryBus()
	r := NewRecorder(convs, msgs, dir, bus, nil)
	r.SetClock(func() time.Time { return time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC) })
	return r, convs, msgs, bus
}

func TestRecordMissedCall(t *testing.T) {
	r, convs, msgs, bus := newTestRecorder(t)
	sess := terminatedSession(call.StatusMissed, call.MediaAudio, 0)

	if err := r.Record(context.Background(), sess); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all := msgs.All()
	if len(all) != 1 {
		t.Fatalf("expected 1 message, got %d", len(all))
	}
	if all[0].Body != "Missed voice call" {
		t.Fatalf("body = %q", all[0].Body)
	}
	if all[0].SenderID != "alice" {
		t.Fatalf("sender = %q", all[0].SenderID)
	}

	conv, err := convs.FindDirectByParticipants(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if conv.LastMessage != "Missed voice call" {
		t.Fatalf("summary = %q", conv.LastMessage)
	}

	for _, user := range []string{"alice", "bob"} {
		got := bus.PublishedTo(signal.UserTopic(user))
		var updated, fresh int
		for _, m := range got {
			switch m.Event.Type {
			case signal.EventConversationUpdated:
				updated++
			case signal.EventMessageNew:
				fresh++
			}
		}
		if updated != 1 || fresh != 1 {
			t.Fatalf("user %s: updated=%d fresh=%d", user, updated, fresh)
		}
	}
}

func TestRecordIdempotent(t *testing.T) {
	r, convs, msgs, bus := newTestRecorder(t)
	sess := terminatedSession(call.StatusEnded, call.MediaVideo, 5*time.Minute+12*time.Second)

	if err := r.Record(context.Background(), sess); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := r.Record(context.Background(), sess); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	if got := len(msgs.All()); got != 1 {
		t.Fatalf("expected 1 message after retry, got %d", got)
	}
	if msgs.All()[0].Body != "Video call (5m 12s)" {
		t.Fatalf("body = %q", msgs.All()[0].Body)
	}

	// Summary runs on every invocation; message_new only on the fresh insert.
	conv, _ := convs.FindDirectByParticipants(context.Background(), []string{"alice", "bob"})
	if conv.LastMessage != "Video call (5m 12s)" {
		t.Fatalf("summary = %q", conv.LastMessage)
	}
	var fresh int
	for _, m := range bus.PublishedTo(signal.UserTopic("bob")) {
		if m.Event.Type == signal.EventMessageNew {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("message_new published %d times, want 1", fresh)
	}
}

func TestConversationUpdatedCarriesSummaryTimestamp(t *testing.T) {
	r, convs, _, bus := newTestRecorder(t)
	sess := terminatedSession(call.StatusEnded, call.MediaAudio, 3*time.Minute)

	if err := r.Record(context.Background(), sess); err != nil {
		t.Fatalf("Record: %v", err)
	}

	conv, err := convs.FindDirectByParticipants(context.Background(), []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if !conv.LastMessageAt.Equal(*sess.EndedAt) {
		t.Fatalf("stored summary at %v, want ended time %v", conv.LastMessageAt, *sess.EndedAt)
	}

	// The broadcast must carry the same timestamp the summary stored, not the
	// call start, or clients sort the conversation list differently than a
	// reload would.
	for _, m := range bus.PublishedTo(signal.UserTopic("bob")) {
		if m.Event.Type != signal.EventConversationUpdated {
			continue
		}
		at, ok := m.Event.Payload["last_message_at"].(time.Time)
		if !ok {
			t.Fatalf("last_message_at has type %T", m.Event.Payload["last_message_at"])
		}
		if !at.Equal(*sess.EndedAt) {
			t.Fatalf("broadcast last_message_at = %v, want %v", at, *sess.EndedAt)
		}
		return
	}
	t.Fatal("no conversation_updated event published to bob")
}

func TestRecordGroupNeverCreates(t *testing.T) {
	r, convs, msgs, _ := newTestRecorder(t)

	sess := terminatedSession(call.StatusRejected, call.MediaAudio, 0)
	sess.Metadata = map[string]string{call.MetaGroupConversationID: "group-9"}

	if err := r.Record(context.Background(), sess); err == nil {
		t.Fatal("expected error for unknown group conversation")
	}
	if got := len(msgs.All()); got != 0 {
		t.Fatalf("expected no message, got %d", got)
	}

	convs.Put(Conversation{
		ID:             "group-9",
		Kind:           ConversationGroup,
		ParticipantIDs: []string{"alice", "bob", "carol"},
	})
	if err := r.Record(context.Background(), sess); err != nil {
		t.Fatalf("Record into existing group: %v", err)
	}
	if got := len(msgs.All()); got != 1 {
		t.Fatalf("expected 1 message, got %d", got)
	}
	if msgs.All()[0].ConversationID != "group-9" {
		t.Fatalf("conversation = %q", msgs.All()[0].ConversationID)
	}
}

func TestRecordRejectsLiveSession(t *testing.T) {
	r, _, _, _ := newTestRecorder(t)
	sess := terminatedSession(call.StatusEnded, call.MediaAudio, time.Minute)
	sess.EndedAt = nil
	if err := r.Record(context.Background(), sess); err == nil {
		t.Fatal("expected error for non-terminated session")
	}
}

func TestSummaryNewestWins(t *testing.T) {
	convs := NewMemoryConversationStore()
	convs.Put(Conversation{ID: "c1", Kind: ConversationDirect, ParticipantIDs: []string{"a", "b"}})

	newer := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	if err := convs.UpdateSummary(context.Background(), "c1", "newer", MessageTypeCall, newer); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := convs.UpdateSummary(context.Background(), "c1", "older", MessageTypeCall, older); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}

	conv, _ := convs.Get(context.Background(), "c1")
	if conv.LastMessage != "newer" {
		t.Fatalf("stale summary overwrote newer one: %q", conv.LastMessage)
	}
}

func TestOutcomeText(t *testing.T) {
	cases := []struct {
		status call.Status
		media  call.MediaType
		dur    time.Duration
		want   string
	}{
		{call.StatusMissed, call.MediaAudio, 0, "Missed voice call"},
		{call.StatusMissed, call.MediaVideo, 0, "Missed video call"},
		{call.StatusRejected, call.MediaVideo, 0, "Declined video call"},
		{call.StatusEnded, call.MediaAudio, 5*time.Minute + 12*time.Second, "Voice call (5m 12s)"},
		{call.StatusEnded, call.MediaVideo, 42 * time.Second, "Video call (42s)"},
	}
	for _, tc := range cases {
		sess := terminatedSession(tc.status, tc.media, tc.dur)
		if got := OutcomeText(sess); got != tc.want {
			t.Errorf("OutcomeText(%s/%s) = %q, want %q", tc.status, tc.media, got, tc.want)
		}
	}
}
