package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger-platform/internal/signal"
	"messenger-platform/pkg/metrics"
)

const (
	// DefaultRingTimeout is the no-answer window armed at Invite.
	DefaultRingTimeout = 60 * time.Second

	// DefaultEndFenceTTL bounds the duplicate-End suppression marker.
	DefaultEndFenceTTL = 5 * time.Second

	// timeoutFireBudget caps the work a firing watchdog may do.
	timeoutFireBudget = 10 * time.Second
)

const (
	EndReasonHangup      = "hangup"
	EndReasonTimeout     = "timeout"
	EndReasonDeclined    = "declined"
	EndReasonAllDeclined = "all_declined"
)

// Credentials is the time-boxed token set a client uses to join the external
// media relay.
type Credentials struct {
	Token     string    `json:"token"`
	RelayURL  string    `json:"relay_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialIssuer mints media-relay credentials. Issuance failure is fatal
// to the operation that requested it (Invite or Answer) and is surfaced to
// the caller.
type CredentialIssuer interface {
	Issue(ctx context.Context, roomID, userID string, media MediaType) (Credentials, error)
}

// Recorder converts a terminated session into its permanent conversation
// record. It must be idempotent: the service may invoke it from End, Timeout
// and Decline paths racing on the same outcome.
type Recorder interface {
	Record(ctx context.Context, sess Session) error
}

// Service owns the authoritative call lifecycle. All session mutation flows
// through the Store's conditional operations; racing terminations converge
// through the ending fence and the store's terminal-state guard.
type Service struct {
	store    Store
	bus      signal.Bus
	fence    Fence
	media    CredentialIssuer
	recorder Recorder
	sup      *Supervisor

	ringTimeout time.Duration
	fenceTTL    time.Duration

	clock func() time.Time
	log   *slog.Logger
}

type ServiceOptions struct {
	RingTimeout time.Duration
	EndFenceTTL time.Duration
	Logger      *slog.Logger
}

func NewService(store Store, bus signal.Bus, fence Fence, issuer CredentialIssuer, recorder Recorder, sup *Supervisor, opts ServiceOptions) *Service {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.EndFenceTTL <= 0 {
		opts.EndFenceTTL = DefaultEndFenceTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if sup == nil {
		sup = NewSupervisor()
	}
	return &Service{
		store:       store,
		bus:         bus,
		fence:       fence,
		media:       issuer,
		recorder:    recorder,
		sup:         sup,
		ringTimeout: opts.RingTimeout,
		fenceTTL:    opts.EndFenceTTL,
		clock:       time.Now,
		log:         opts.Logger,
	}
}

// SetClock overrides the service clock for deterministic tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

type InviteInput struct {
	RoomID       string
	CallerID     string
	Participants []string
	MediaType    MediaType
	Metadata     map[string]string
}

type InviteResult struct {
	Session     Session
	Credentials Credentials
}

// Invite opens (or attaches to) the session for RoomID, arms the no-answer
// watchdog and publishes the invite. Creation is idempotent: the loser of a
// concurrent duplicate creation re-reads and attaches instead of erroring.
func (s *Service) Invite(ctx context.Context, connID string, in InviteInput) (InviteResult, error) {
	if in.RoomID == "" || in.CallerID == "" {
		return InviteResult{}, ErrInvalidArgument
	}
	if !in.MediaType.Valid() {
		return InviteResult{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	participants := withCaller(in.Participants, in.CallerID)

	sess := Session{
		RoomID:      in.RoomID,
		InitiatorID: in.CallerID,
		MediaType:   in.MediaType,
		Status:      StatusRinging,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		Events: []Event{{
			Type:      "invite",
			UserID:    in.CallerID,
			Timestamp: now,
		}},
	}
	for _, userID := range participants {
		state := ParticipantRinging
		if userID == in.CallerID {
			state = ParticipantInitiator
		}
		sess.Participants = append(sess.Participants, Participant{UserID: userID, State: state, UpdatedAt: now})
	}

	created := true
	if err := s.store.Create(ctx, sess); err != nil {
		if !errors.Is(err, ErrExists) {
			return InviteResult{}, fmt.Errorf("call: create session: %w", err)
		}
		// Lost the creation race (or a retried invite): attach to the
		// existing record instead of surfacing an error to the caller.
		created = false
		existing, err := s.store.Get(ctx, in.RoomID)
		if err != nil {
			return InviteResult{}, fmt.Errorf("call: attach to session: %w", err)
		}
		// A room whose call already resolved must not re-ring: no fresh
		// watchdog, no re-broadcast invite. The caller gets the terminal
		// snapshot and picks a new room id.
		if existing.Terminated() {
			return InviteResult{Session: existing}, ErrTerminal
		}
		sess = existing
	}

	creds, err := s.media.Issue(ctx, in.RoomID, in.CallerID, sess.MediaType)
	if err != nil {
		// The session record stays intact; the timeout path resolves it.
		return InviteResult{}, fmt.Errorf("call: issue credentials: %w", err)
	}

	s.sup.Arm(connID, in.RoomID, s.ringTimeout, s.fireTimeout)
	metrics.WatchdogsActive.Set(float64(s.sup.Active()))
	if created {
		metrics.CallsStarted.Inc()
	}

	invite := signal.Event{
		Type:   signal.EventCallInvite,
		RoomID: in.RoomID,
		From:   in.CallerID,
		Payload: map[string]any{
			"media_type":   string(sess.MediaType),
			"participants": sess.ParticipantIDs(),
			"metadata":     sess.Metadata,
		},
		At: now,
	}
	for _, p := range sess.Participants {
		if p.UserID == in.CallerID {
			continue
		}
		s.publish(ctx, signal.UserTopic(p.UserID), invite)
	}
	// Redundancy path: clients already joined to the call topic see the
	// invite even if their user-topic subscription lapsed.
	s.publish(ctx, signal.CallTopic(in.RoomID), invite)

	sent := invite
	sent.Type = signal.EventCallInviteSent
	s.publish(ctx, signal.UserTopic(in.CallerID), sent)

	return InviteResult{Session: sess, Credentials: creds}, nil
}

// Answer transitions userID to answered, escalates call status, cancels the
// watchdog and announces the pickup. A missing session is reported as
// ErrNotFound — a soft outcome, the call may have ended in a race. An answer
// arriving after a terminal classification returns ErrTerminal and must not
// resurrect the call.
func (s *Service) Answer(ctx context.Context, roomID, userID string) (Credentials, error) {
	if roomID == "" || userID == "" {
		return Credentials{}, ErrInvalidArgument
	}

	sess, err := s.store.Get(ctx, roomID)
	if err != nil {
		return Credentials{}, err
	}
	if _, ok := sess.Participant(userID); !ok {
		return Credentials{}, ErrNotParticipant
	}

	creds, err := s.media.Issue(ctx, roomID, userID, sess.MediaType)
	if err != nil {
		return Credentials{}, fmt.Errorf("call: issue credentials: %w", err)
	}

	now := s.clock().UTC()
	if err := s.store.SetParticipantState(ctx, roomID, userID, ParticipantAnswered, now); err != nil {
		return Credentials{}, err
	}
	if err := s.store.MarkAnswered(ctx, roomID, now); err != nil && !errors.Is(err, ErrTerminal) {
		return Credentials{}, err
	}

	s.cancelWatchdog(roomID)

	if err := s.store.AppendEvent(ctx, roomID, Event{Type: "answer", UserID: userID, Timestamp: now}); err != nil {
		s.log.Warn("call: append answer event failed", "room_id", roomID, "err", err)
	}

	ev := signal.Event{
		Type:   signal.EventCallAnswer,
		RoomID: roomID,
		From:   userID,
		Payload: map[string]any{
			"media_type":  string(sess.MediaType),
			"credentials": creds,
		},
		At: now,
	}
	s.publish(ctx, signal.CallTopic(roomID), ev)
	// Direct delivery to the initiator is the reliability fallback: call-topic
	// membership is not guaranteed at the instant of answering.
	s.publish(ctx, signal.UserTopic(sess.InitiatorID), ev)

	return creds, nil
}

// Decline marks userID declined. One-to-one calls terminate immediately with
// status rejected; group calls continue until every non-initiator has
// declined or ended.
func (s *Service) Decline(ctx context.Context, roomID, userID, reason string) error {
	if roomID == "" || userID == "" {
		return ErrInvalidArgument
	}

	sess, err := s.store.Get(ctx, roomID)
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	if err := s.store.SetParticipantState(ctx, roomID, userID, ParticipantDeclined, now); err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, roomID, Event{
		Type:      "decline",
		UserID:    userID,
		Payload:   map[string]any{"reason": reason},
		Timestamp: now,
	}); err != nil {
		s.log.Warn("call: append decline event failed", "room_id", roomID, "err", err)
	}

	declined := signal.Event{
		Type:    signal.EventCallDeclined,
		RoomID:  roomID,
		From:    userID,
		Payload: map[string]any{"reason": reason},
		At:      now,
	}
	for _, p := range sess.Participants {
		s.publish(ctx, signal.UserTopic(p.UserID), declined)
	}
	s.publish(ctx, signal.CallTopic(roomID), declined)

	if !sess.IsGroup() {
		s.terminate(ctx, roomID, StatusRejected, EndReasonDeclined, userID, now)
		return nil
	}

	// Group branch: the call continues for the remaining invitees; only when
	// everyone else has resolved does it auto-terminate.
	latest, err := s.store.Get(ctx, roomID)
	if err != nil {
		return nil
	}
	if latest.AllOthersResolved() {
		s.terminate(ctx, roomID, StatusRejected, EndReasonAllDeclined, userID, now)
	}
	return nil
}

// End is the explicit hang-up path. Duplicate Ends for the same room within
// the fence TTL are suppressed; the store's terminal guard catches the rest.
// When the session has vanished the service still notifies connected parties
// that the call ended.
func (s *Service) End(ctx context.Context, roomID, userID, reason string) error {
	if roomID == "" {
		return ErrInvalidArgument
	}
	if reason == "" {
		reason = EndReasonHangup
	}

	ok, err := s.fence.TryAcquire(ctx, endFenceKey(roomID), s.fenceTTL)
	if err != nil {
		// A broken fence must not block termination; fall through to the
		// store's terminal guard.
		s.log.Warn("call: end fence unavailable", "room_id", roomID, "err", err)
	} else if !ok {
		// Another End holds the fence. Trust it only once the session has
		// actually reached a terminal state; a holder that died mid-flight
		// must not turn retries into silent no-ops for the fence TTL.
		if held, gerr := s.store.Get(ctx, roomID); gerr == nil && held.Terminated() {
			s.log.Debug("call: duplicate end suppressed", "room_id", roomID, "user_id", userID)
			return nil
		}
	}

	now := s.clock().UTC()

	sess, err := s.store.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Degenerate case: nothing recoverable. Best effort notification
			// to whoever is still on the call topic.
			s.cancelWatchdog(roomID)
			s.publish(ctx, signal.CallTopic(roomID), signal.Event{
				Type:    signal.EventCallEnded,
				RoomID:  roomID,
				From:    userID,
				Payload: map[string]any{"reason": reason},
				At:      now,
			})
			return err
		}
		return err
	}

	final := StatusMissed
	if sess.Answered() {
		final = StatusAnswered
	}
	s.terminate(ctx, roomID, final, reason, userID, now)
	return nil
}

// Timeout fires the no-answer deadline. Invoked by the supervisor exactly
// once per armed call; re-reads the session and no-ops when another path has
// already resolved the race.
func (s *Service) Timeout(ctx context.Context, roomID string) {
	sess, err := s.store.Get(ctx, roomID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("call: timeout read failed", "room_id", roomID, "err", err)
		}
		return
	}
	if sess.Status != StatusRinging || sess.Terminated() {
		return
	}

	now := s.clock().UTC()
	s.terminate(ctx, roomID, StatusMissed, EndReasonTimeout, "", now)
}

// ToggleMedia relays a mute/camera toggle verbatim. Not state-machine
// relevant; no session mutation.
func (s *Service) ToggleMedia(ctx context.Context, roomID, userID, kind string, enabled bool) error {
	if roomID == "" || userID == "" {
		return ErrInvalidArgument
	}
	sess, err := s.store.Get(ctx, roomID)
	if err != nil {
		return err
	}

	ev := signal.Event{
		Type:   signal.EventCallToggleMedia,
		RoomID: roomID,
		From:   userID,
		Payload: map[string]any{
			"kind":    kind,
			"enabled": enabled,
		},
		At: s.clock().UTC(),
	}
	s.publish(ctx, signal.CallTopic(roomID), ev)
	for _, p := range sess.Participants {
		s.publish(ctx, signal.UserTopic(p.UserID), ev)
	}
	return nil
}

// Snapshot returns the current session record.
func (s *Service) Snapshot(ctx context.Context, roomID string) (Session, error) {
	if roomID == "" {
		return Session{}, ErrInvalidArgument
	}
	return s.store.Get(ctx, roomID)
}

// ReleaseConnection sweeps every watchdog armed by connID. Called on
// connection teardown.
func (s *Service) ReleaseConnection(connID string) {
	n := s.sup.CancelOwned(connID)
	if n > 0 {
		s.log.Debug("call: swept connection watchdogs", "conn_id", connID, "count", n)
	}
	metrics.WatchdogsActive.Set(float64(s.sup.Active()))
}

// terminate finalizes the session, hands off to the history recorder and
// broadcasts call_ended. Losing the terminal race is a silent no-op. The
// watchdog is cancelled only once the terminal transition is durable: a
// transient store failure keeps it armed so the timeout path retries.
func (s *Service) terminate(ctx context.Context, roomID string, status Status, reason, endedBy string, at time.Time) {
	sess, err := s.store.Terminate(ctx, roomID, status, reason, endedBy, at)
	if err != nil {
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			s.cancelWatchdog(roomID)
			return // already resolved elsewhere
		}
		s.log.Error("call: terminate failed", "room_id", roomID, "err", err)
		return
	}
	s.cancelWatchdog(roomID)
	if err := s.store.AppendEvent(ctx, roomID, Event{
		Type:      "end",
		UserID:    endedBy,
		Payload:   map[string]any{"reason": reason, "status": string(sess.Status)},
		Timestamp: at,
	}); err != nil {
		s.log.Warn("call: append end event failed", "room_id", roomID, "err", err)
	}

	metrics.CallsEnded.WithLabelValues(string(sess.Status)).Inc()

	// History is a side effect; its failure must never block the user-visible
	// call_ended signal.
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, sess); err != nil {
			s.log.Error("call: history recording failed", "room_id", roomID, "err", err)
		}
	}

	ended := signal.Event{
		Type:   signal.EventCallEnded,
		RoomID: roomID,
		From:   endedBy,
		Payload: map[string]any{
			"status":   string(sess.Status),
			"reason":   reason,
			"duration": int(sess.Duration().Seconds()),
		},
		At: at,
	}
	for _, p := range sess.Participants {
		s.publish(ctx, signal.UserTopic(p.UserID), ended)
	}
	s.publish(ctx, signal.CallTopic(roomID), ended)
}

func (s *Service) fireTimeout(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutFireBudget)
	defer cancel()
	metrics.WatchdogsActive.Set(float64(s.sup.Active()))
	s.Timeout(ctx, roomID)
}

func (s *Service) cancelWatchdog(roomID string) {
	s.sup.Cancel(roomID)
	metrics.WatchdogsActive.Set(float64(s.sup.Active()))
}

func (s *Service) publish(ctx context.Context, topic string, ev signal.Event) {
	if err := s.bus.Publish(ctx, topic, ev); err != nil {
		// Delivery failure is not an error: unreachable targets resolve via
		// the timeout path.
		s.log.Warn("call: publish failed", "topic", topic, "type", ev.Type, "err", err)
		return
	}
	metrics.SignalPublished.WithLabelValues(ev.Type).Inc()
}

func endFenceKey(roomID string) string {
	return "call:ending:" + roomID
}

// withCaller puts the caller first and removes duplicates, preserving the
// caller-chosen invite order for everyone else.
func withCaller(participants []string, callerID string) []string {
	out := []string{callerID}
	seen := map[string]struct{}{callerID: {}}
	for _, id := range participants {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
