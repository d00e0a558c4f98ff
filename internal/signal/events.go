package signal

import "time"

// Event types carried over the signaling channel.
//
// Inbound client requests use the imperative form (call_decline, call_end);
// the coordinator broadcasts the past-tense outcome (call_declined,
// call_ended). Invite, answer and toggle share one name in both directions.
// The remaining types are emitted by the history recorder and the presence
// bridge.
const (
	EventCallInvite      = "call_invite"
	EventCallInviteSent  = "call_invite_sent"
	EventCallAnswer      = "call_answer"
	EventCallDecline     = "call_decline"
	EventCallDeclined    = "call_declined"
	EventCallEnd         = "call_end"
	EventCallEnded       = "call_ended"
	EventCallToggleMedia = "call_toggle_media"
	EventCallCredentials = "call_credentials"

	EventConversationUpdated = "conversation_updated"
	EventMessageNew          = "message_new"

	EventPresenceOnline  = "presence_online"
	EventPresenceOffline = "presence_offline"
	EventTyping          = "typing"

	// EventError is sent only point-to-point to the connection whose inbound
	// event failed; it never travels through the bus.
	EventError = "error"
)

// Event is the wire envelope published on user and call topics.
// Payload is intentionally loose; each event type documents its own keys.
type Event struct {
	Type    string         `json:"type"`
	RoomID  string         `json:"room_id,omitempty"`
	From    string         `json:"from,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// Message pairs a delivered event with the topic it arrived on.
type Message struct {
	Topic string
	Event Event
}
