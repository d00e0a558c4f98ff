package call

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedSession(t *testing.T, store *MemoryStore) time.Time {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	err := store.Create(context.Background(), Session{
		RoomID:      "r1",
		InitiatorID: "alice",
		Status:      StatusRinging,
		MediaType:   MediaAudio,
		CreatedAt:   now,
		Participants: []Participant{
			{UserID: "alice", State: ParticipantInitiator, UpdatedAt: now},
			{UserID: "bob", State: ParticipantRinging, UpdatedAt: now},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return now
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store)
	err := store.Create(context.Background(), Session{RoomID: "r1"})
	if !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v, want ErrExists", err)
	}
}

func TestMemoryStoreTerminateOnce(t *testing.T) {
	store := NewMemoryStore()
	now := seedSession(t, store)
	ctx := context.Background()

	sess, err := store.Terminate(ctx, "r1", StatusMissed, EndReasonTimeout, "", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !sess.Terminated() || sess.Status != StatusMissed {
		t.Fatalf("session = %+v", sess)
	}
	p, _ := sess.Participant("bob")
	if p.State != ParticipantMissed {
		t.Fatalf("ringing non-initiator not marked missed: %s", p.State)
	}

	if _, err := store.Terminate(ctx, "r1", StatusEnded, EndReasonHangup, "alice", now.Add(2*time.Minute)); !errors.Is(err, ErrTerminal) {
		t.Fatalf("second Terminate err = %v, want ErrTerminal", err)
	}
	final, _ := store.Get(ctx, "r1")
	if final.Status != StatusMissed || final.EndReason != EndReasonTimeout {
		t.Fatalf("loser overwrote outcome: %+v", final)
	}
}

func TestMemoryStoreTerminateKeepsAnsweredParticipants(t *testing.T) {
	store := NewMemoryStore()
	now := seedSession(t, store)
	ctx := context.Background()

	if err := store.SetParticipantState(ctx, "r1", "bob", ParticipantAnswered, now); err != nil {
		t.Fatalf("SetParticipantState: %v", err)
	}
	sess, err := store.Terminate(ctx, "r1", StatusAnswered, EndReasonHangup, "alice", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	p, _ := sess.Participant("bob")
	if p.State != ParticipantAnswered {
		t.Fatalf("answered participant downgraded to %s", p.State)
	}
}

func TestMemoryStoreMarkAnswered(t *testing.T) {
	store := NewMemoryStore()
	now := seedSession(t, store)
	ctx := context.Background()

	if err := store.MarkAnswered(ctx, "r1", now); err != nil {
		t.Fatalf("MarkAnswered: %v", err)
	}
	// Second answer in a group call is a no-op, not an error.
	if err := store.MarkAnswered(ctx, "r1", now.Add(time.Second)); err != nil {
		t.Fatalf("repeated MarkAnswered: %v", err)
	}

	if _, err := store.Terminate(ctx, "r1", StatusAnswered, EndReasonHangup, "alice", now.Add(time.Minute)); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if err := store.MarkAnswered(ctx, "r1", now.Add(2*time.Minute)); !errors.Is(err, ErrTerminal) {
		t.Fatalf("MarkAnswered after end err = %v, want ErrTerminal", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	seedSession(t, store)
	ctx := context.Background()

	got, _ := store.Get(ctx, "r1")
	got.Participants[0].State = ParticipantEnded
	got.Status = StatusEnded

	again, _ := store.Get(ctx, "r1")
	if again.Status != StatusRinging || again.Participants[0].State != ParticipantInitiator {
		t.Fatal("Get returned a shared reference")
	}
}

func TestMemoryFenceTTL(t *testing.T) {
	fence := NewMemoryFence()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	fence.SetClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := fence.TryAcquire(ctx, "call:ending:r1", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, _ = fence.TryAcquire(ctx, "call:ending:r1", 5*time.Second)
	if ok {
		t.Fatal("second acquire inside TTL succeeded")
	}

	now = now.Add(6 * time.Second)
	ok, _ = fence.TryAcquire(ctx, "call:ending:r1", 5*time.Second)
	if !ok {
		t.Fatal("acquire after expiry failed")
	}
}
