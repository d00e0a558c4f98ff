package gateway

import (
	"context"
	"testing"
	"time"

	"messenger-platform/internal/call"
	"messenger-platform/internal/presence"
	"messenger-platform/internal/signal"
)

type fakeIssuer struct{}

func (fakeIssuer) Issue(ctx context.Context, roomID, userID string, media call.MediaType) (call.Credentials, error) {
	return call.Credentials{Token: "tok-" + userID, RelayURL: "wss://relay.local"}, nil
}

func newTestGateway(t *testing.T) (*Gateway, *signal.MemoryBus, *call.MemoryStore) {
	t.Helper()
	bus := signal.NewMemoryBus()
	store := call.NewMemoryStore()
	svc := call.NewService(store, bus, call.NewMemoryFence(), fakeIssuer{}, nil, call.NewSupervisor(), call.ServiceOptions{
		RingTimeout: time.Hour,
	})
	pres := presence.NewBridge(presence.NewMemoryCounters(), bus, nil)
	g := New(nil, svc, pres, bus, Options{})
	return g, bus, store
}

func drain(conn *Conn) []signal.Event {
	var out []signal.Event
	for {
		select {
		case ev := <-conn.Send:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDispatchInviteSendsCredentials(t *testing.T) {
	g, bus, store := newTestGateway(t)
	ctx := context.Background()

	conn := NewConn("conn-1", "alice", 8)
	sub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))

	g.dispatch(ctx, conn, sub, clientEvent{
		Type:         signal.EventCallInvite,
		RoomID:       "room-1",
		Participants: []string{"bob"},
		MediaType:    "audio",
	})

	got := drain(conn)
	if len(got) != 1 || got[0].Type != signal.EventCallCredentials {
		t.Fatalf("queued events = %+v", got)
	}
	creds, ok := got[0].Payload["credentials"].(call.Credentials)
	if !ok || creds.Token != "tok-alice" {
		t.Fatalf("credentials payload = %+v", got[0].Payload)
	}

	sess, err := store.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sess.Status != call.StatusRinging {
		t.Fatalf("status = %s", sess.Status)
	}
	if got := len(bus.PublishedTo(signal.UserTopic("bob"))); got != 1 {
		t.Fatalf("bob received %d events, want 1 invite", got)
	}
}

func TestDispatchAnswerJoinsCallTopic(t *testing.T) {
	g, bus, _ := newTestGateway(t)
	ctx := context.Background()

	caller := NewConn("conn-1", "alice", 8)
	callerSub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))
	g.dispatch(ctx, caller, callerSub, clientEvent{
		Type: signal.EventCallInvite, RoomID: "room-1", Participants: []string{"bob"}, MediaType: "video",
	})

	callee := NewConn("conn-2", "bob", 8)
	calleeSub, _ := bus.Subscribe(ctx, signal.UserTopic("bob"))
	g.dispatch(ctx, callee, calleeSub, clientEvent{Type: signal.EventCallAnswer, RoomID: "room-1"})

	got := drain(callee)
	if len(got) != 1 || got[0].Type != signal.EventCallCredentials {
		t.Fatalf("callee queue = %+v", got)
	}

	// Call-topic traffic now reaches the callee's subscription.
	bus.Publish(ctx, signal.CallTopic("room-1"), signal.Event{Type: signal.EventCallToggleMedia})
	select {
	case msg := <-calleeSub.Messages():
		// Skip the earlier user-topic deliveries until the call-topic one.
		for msg.Topic != signal.CallTopic("room-1") {
			select {
			case msg = <-calleeSub.Messages():
			case <-time.After(time.Second):
				t.Fatal("call topic message never arrived")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no messages delivered")
	}
}

func TestDispatchAnswerFromStranger(t *testing.T) {
	g, bus, _ := newTestGateway(t)
	ctx := context.Background()

	caller := NewConn("conn-1", "alice", 8)
	callerSub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))
	g.dispatch(ctx, caller, callerSub, clientEvent{
		Type: signal.EventCallInvite, RoomID: "room-1", Participants: []string{"bob"}, MediaType: "audio",
	})

	mallory := NewConn("conn-3", "mallory", 8)
	mallorySub, _ := bus.Subscribe(ctx, signal.UserTopic("mallory"))
	g.dispatch(ctx, mallory, mallorySub, clientEvent{Type: signal.EventCallAnswer, RoomID: "room-1"})

	got := drain(mallory)
	if len(got) != 1 || got[0].Type != signal.EventError {
		t.Fatalf("queue = %+v", got)
	}
	if got[0].Payload["code"] != "not_participant" {
		t.Fatalf("code = %v", got[0].Payload["code"])
	}
}

func TestDispatchEndUnknownRoomIsSoft(t *testing.T) {
	g, bus, _ := newTestGateway(t)
	ctx := context.Background()

	conn := NewConn("conn-1", "alice", 8)
	sub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))

	g.dispatch(ctx, conn, sub, clientEvent{Type: signal.EventCallEnd, RoomID: "room-gone"})

	// Ending a vanished call is not an error the client can act on.
	if got := drain(conn); len(got) != 0 {
		t.Fatalf("queue = %+v", got)
	}
}

func TestDispatchDeclineTerminatesCall(t *testing.T) {
	g, bus, store := newTestGateway(t)
	ctx := context.Background()

	caller := NewConn("conn-1", "alice", 8)
	callerSub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))
	g.dispatch(ctx, caller, callerSub, clientEvent{
		Type: signal.EventCallInvite, RoomID: "room-1", Participants: []string{"bob"}, MediaType: "audio",
	})

	callee := NewConn("conn-2", "bob", 8)
	calleeSub, _ := bus.Subscribe(ctx, signal.UserTopic("bob"))
	g.dispatch(ctx, callee, calleeSub, clientEvent{
		Type: signal.EventCallDecline, RoomID: "room-1", Reason: "busy",
	})

	if got := drain(callee); len(got) != 0 {
		t.Fatalf("decline produced error events: %+v", got)
	}
	sess, err := store.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != call.StatusRejected {
		t.Fatalf("status after wire decline = %s, want rejected", sess.Status)
	}
}

func TestDispatchEndTerminatesCall(t *testing.T) {
	g, bus, store := newTestGateway(t)
	ctx := context.Background()

	caller := NewConn("conn-1", "alice", 8)
	callerSub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))
	g.dispatch(ctx, caller, callerSub, clientEvent{
		Type: signal.EventCallInvite, RoomID: "room-1", Participants: []string{"bob"}, MediaType: "audio",
	})

	callee := NewConn("conn-2", "bob", 8)
	calleeSub, _ := bus.Subscribe(ctx, signal.UserTopic("bob"))
	g.dispatch(ctx, callee, calleeSub, clientEvent{Type: signal.EventCallAnswer, RoomID: "room-1"})
	drain(callee)

	g.dispatch(ctx, caller, callerSub, clientEvent{Type: signal.EventCallEnd, RoomID: "room-1"})

	if got := drain(caller); len(got) != 1 || got[0].Type != signal.EventCallCredentials {
		// Only the invite's credentials event; the hang-up itself is silent.
		t.Fatalf("caller queue = %+v", got)
	}
	sess, err := store.Get(ctx, "room-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.Terminated() || sess.Status != call.StatusAnswered {
		t.Fatalf("session after wire end: status=%s terminated=%v", sess.Status, sess.Terminated())
	}
}

func TestDispatchUnsupportedType(t *testing.T) {
	g, bus, _ := newTestGateway(t)
	ctx := context.Background()

	conn := NewConn("conn-1", "alice", 8)
	sub, _ := bus.Subscribe(ctx, signal.UserTopic("alice"))

	g.dispatch(ctx, conn, sub, clientEvent{Type: "jump"})
	got := drain(conn)
	if len(got) != 1 || got[0].Type != signal.EventError {
		t.Fatalf("queue = %+v", got)
	}
	if got[0].Payload["code"] != "unsupported" {
		t.Fatalf("code = %v", got[0].Payload["code"])
	}
}

func TestConnTrySend(t *testing.T) {
	conn := NewConn("c1", "alice", 32)

	if !conn.TrySend(signal.Event{Type: "x"}) {
		t.Fatal("send on open conn failed")
	}

	// Fill the queue; the overflow send must not block.
	for i := 0; i < 64; i++ {
		conn.TrySend(signal.Event{Type: "x"})
	}
	if conn.TrySend(signal.Event{Type: "x"}) {
		t.Fatal("send on full queue succeeded")
	}

	conn.Close()
	conn.Close() // idempotent
	if conn.TrySend(signal.Event{Type: "x"}) {
		t.Fatal("send on closed conn succeeded")
	}
}
