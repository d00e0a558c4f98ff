package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger-platform/internal/call"
	"messenger-platform/internal/directory"
	"messenger-platform/internal/signal"
	"messenger-platform/pkg/metrics"

	"github.com/google/uuid"
)

// Recorder converts a terminated call session into exactly one permanent
// conversation message, updates the conversation summary, and notifies
// participants. Safe to invoke any number of times for the same room: the
// message insert is guarded by a uniqueness constraint, the summary update is
// newest-wins and runs on every invocation (a crashed prior attempt may have
// written the message but died before the summary), and the message_new
// notification goes out only for a fresh insert.
type Recorder struct {
	conversations ConversationStore
	messages      MessageStore
	dir           directory.Directory
	bus           signal.Bus

	clock func() time.Time
	log   *slog.Logger
}

func NewRecorder(conversations ConversationStore, messages MessageStore, dir directory.Directory, bus signal.Bus, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		conversations: conversations,
		messages:      messages,
		dir:           dir,
		bus:           bus,
		clock:         time.Now,
		log:           log,
	}
}

// SetClock overrides the recorder clock for deterministic tests.
func (r *Recorder) SetClock(clock func() time.Time) { r.clock = clock }

// Record implements call.Recorder. Errors are returned for the caller's log
// line but are never fatal to the call_ended path.
func (r *Recorder) Record(ctx context.Context, sess call.Session) error {
	if !sess.Terminated() {
		return fmt.Errorf("history: session %s is not terminated", sess.RoomID)
	}

	conv, err := r.resolveConversation(ctx, sess)
	if err != nil {
		metrics.HistoryRecorded.WithLabelValues("failed").Inc()
		return err
	}

	body := OutcomeText(sess)
	msg := Message{
		ID:              uuid.NewString(),
		ConversationID:  conv.ID,
		RoomID:          sess.RoomID,
		SenderID:        sess.InitiatorID,
		Type:            MessageTypeCall,
		Body:            body,
		CallStatus:      string(sess.Status),
		MediaType:       string(sess.MediaType),
		DurationSeconds: int(sess.Duration().Seconds()),
		CreatedAt:       sess.CreatedAt,
		EndedAt:         sess.EndedAt,
	}

	inserted := true
	if err := r.messages.InsertCallOutcome(ctx, msg); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			metrics.HistoryRecorded.WithLabelValues("failed").Inc()
			return fmt.Errorf("history: insert outcome: %w", err)
		}
		// A retried termination already wrote the message; reuse it.
		inserted = false
		existing, err := r.messages.GetCallOutcome(ctx, conv.ID, sess.RoomID)
		if err != nil {
			metrics.HistoryRecorded.WithLabelValues("failed").Inc()
			return fmt.Errorf("history: fetch existing outcome: %w", err)
		}
		msg = existing
	}

	// Summary runs on every invocation, not just fresh inserts.
	at := sess.CreatedAt
	if sess.EndedAt != nil {
		at = *sess.EndedAt
	}
	if err := r.conversations.UpdateSummary(ctx, conv.ID, msg.Body, MessageTypeCall, at); err != nil {
		r.log.Warn("history: summary update failed", "conversation_id", conv.ID, "err", err)
	}

	r.notify(ctx, conv, msg, at, inserted)

	if inserted {
		metrics.HistoryRecorded.WithLabelValues("inserted").Inc()
	} else {
		metrics.HistoryRecorded.WithLabelValues("reused").Inc()
	}
	return nil
}

// resolveConversation finds the direct conversation for the exact
// participant set, creating one when absent. A call tagged with a group
// conversation id resolves that conversation directly and never creates.
func (r *Recorder) resolveConversation(ctx context.Context, sess call.Session) (Conversation, error) {
	if groupID := sess.GroupConversationID(); groupID != "" {
		conv, err := r.conversations.Get(ctx, groupID)
		if err != nil {
			return Conversation{}, fmt.Errorf("history: resolve group conversation %s: %w", groupID, err)
		}
		return conv, nil
	}

	ids := sess.ParticipantIDs()
	conv, err := r.conversations.FindDirectByParticipants(ctx, ids)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, fmt.Errorf("history: find direct conversation: %w", err)
	}

	now := r.clock().UTC()
	conv = Conversation{
		ID:             uuid.NewString(),
		Kind:           ConversationDirect,
		ParticipantIDs: ids,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.conversations.Create(ctx, conv); err != nil {
		// Another terminator may have created it in the gap; re-find.
		if found, ferr := r.conversations.FindDirectByParticipants(ctx, ids); ferr == nil {
			return found, nil
		}
		return Conversation{}, fmt.Errorf("history: create direct conversation: %w", err)
	}
	return conv, nil
}

// notify fans the summary update and, for fresh inserts, the new message out
// to every participant. lastAt is the timestamp UpdateSummary wrote; the
// broadcast must carry the same value so clients do not reorder the
// conversation list against the stored summary.
func (r *Recorder) notify(ctx context.Context, conv Conversation, msg Message, lastAt time.Time, inserted bool) {
	now := r.clock().UTC()

	updated := signal.Event{
		Type:   signal.EventConversationUpdated,
		RoomID: msg.RoomID,
		Payload: map[string]any{
			"conversation_id":   conv.ID,
			"last_message":      msg.Body,
			"last_message_type": MessageTypeCall,
			"last_message_at":   lastAt,
		},
		At: now,
	}

	var fresh signal.Event
	if inserted {
		fresh = signal.Event{
			Type:   signal.EventMessageNew,
			RoomID: msg.RoomID,
			From:   msg.SenderID,
			Payload: map[string]any{
				"conversation_id": conv.ID,
				"message":         msg,
				"from_name":       r.displayName(ctx, msg.SenderID),
			},
			At: now,
		}
	}

	for _, userID := range conv.ParticipantIDs {
		if err := r.bus.Publish(ctx, signal.UserTopic(userID), updated); err != nil {
			r.log.Warn("history: summary publish failed", "user_id", userID, "err", err)
		}
		if inserted {
			if err := r.bus.Publish(ctx, signal.UserTopic(userID), fresh); err != nil {
				r.log.Warn("history: message publish failed", "user_id", userID, "err", err)
			}
		}
	}
}

func (r *Recorder) displayName(ctx context.Context, userID string) string {
	if r.dir == nil {
		return userID
	}
	u, err := r.dir.Resolve(ctx, userID)
	if err != nil {
		return userID
	}
	return u.DisplayName
}

// OutcomeText composes the human-readable body of a call-outcome message.
func OutcomeText(sess call.Session) string {
	kind, titled := "voice", "Voice"
	if sess.MediaType == call.MediaVideo {
		kind, titled = "video", "Video"
	}

	switch sess.Status {
	case call.StatusMissed:
		return fmt.Sprintf("Missed %s call", kind)
	case call.StatusRejected:
		return fmt.Sprintf("Declined %s call", kind)
	default:
		return fmt.Sprintf("%s call (%s)", titled, FormatDuration(sess.Duration()))
	}
}
