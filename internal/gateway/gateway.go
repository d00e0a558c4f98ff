package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"messenger-platform/internal/auth"
	"messenger-platform/internal/call"
	"messenger-platform/internal/presence"
	"messenger-platform/internal/signal"
	"messenger-platform/pkg/metrics"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = time.Second

	heartbeatEvery   = 30 * time.Second
	heartbeatTimeout = 10 * time.Second
	maxPingFailures  = 3

	maxFrameBytes = 64 * 1024
)

// Gateway is the websocket entrypoint. It authenticates the handshake,
// bridges the signaling bus to the socket, and dispatches inbound call
// events to the call service in receipt order.
type Gateway struct {
	log      *slog.Logger
	tokens   *auth.Manager
	calls    *call.Service
	presence *presence.Bridge
	bus      signal.Bus

	writeTimeout  time.Duration
	readIdle      time.Duration
	sendQueueSize int

	clock func() time.Time
}

type Options struct {
	WriteTimeout  time.Duration
	ReadIdle      time.Duration
	SendQueueSize int
	Logger        *slog.Logger
}

func New(tokens *auth.Manager, calls *call.Service, pres *presence.Bridge, bus signal.Bus, opts Options) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ReadIdle <= 0 {
		opts.ReadIdle = defaultReadIdle
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	if opts.SendQueueSize < minSendQueueSize {
		opts.SendQueueSize = minSendQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		log:           opts.Logger,
		tokens:        tokens,
		calls:         calls,
		presence:      pres,
		bus:           bus,
		writeTimeout:  opts.WriteTimeout,
		readIdle:      opts.ReadIdle,
		sendQueueSize: opts.SendQueueSize,
		clock:         time.Now,
	}
}

// clientEvent is the inbound wire format. Field relevance depends on Type.
type clientEvent struct {
	Type         string            `json:"type"`
	RoomID       string            `json:"room_id,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	MediaType    string            `json:"media_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Kind         string            `json:"kind,omitempty"`
	Enabled      bool              `json:"enabled,omitempty"`
}

// Handle upgrades the request and runs the session loop until the client
// goes away.
func (g *Gateway) Handle(c *gin.Context) {
	tok := auth.BearerToken(c)
	if tok == "" {
		c.AbortWithStatusJSON(401, gin.H{"error": "missing bearer token"})
		return
	}
	claims, err := g.tokens.Verify(tok, auth.TokenTypeAccess, g.clock())
	if err != nil {
		c.AbortWithStatusJSON(401, gin.H{"error": "invalid token"})
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("gateway: accept failed", "err", err)
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()
	ws.SetReadLimit(maxFrameBytes)

	g.run(c.Request.Context(), ws, claims.UserID)
}

func (g *Gateway) run(parent context.Context, ws *websocket.Conn, userID string) {
	conn := NewConn(uuid.NewString(), userID, g.sendQueueSize)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sub, err := g.bus.Subscribe(ctx, signal.UserTopic(userID))
	if err != nil {
		g.log.Error("gateway: subscribe failed", "user_id", userID, "err", err)
		_ = ws.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}

	metrics.ConnectionsActive.Inc()
	g.presence.MarkOnline(ctx, userID)
	g.log.Info("gateway: connected", "conn_id", conn.ID, "user_id", userID)

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.calls.ReleaseConnection(conn.ID)
			g.presence.MarkOffline(context.WithoutCancel(ctx), userID)
			_ = sub.Close()
			conn.Close()
			_ = ws.Close(code, reason)
			cancel()
			metrics.ConnectionsActive.Dec()
			g.log.Info("gateway: disconnected", "conn_id", conn.ID, "user_id", userID, "reason", reason)
		})
	}

	// Bus fan-in: bus messages for this user become outbound frames.
	go func() {
		for {
			select {
			case <-conn.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				if !conn.TrySend(msg.Event) {
					g.log.Warn("gateway: send queue full, dropping", "conn_id", conn.ID, "type", msg.Event.Type)
				}
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case ev := <-conn.Send:
				if err := g.writeEvent(ctx, ws, ev); err != nil {
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, heartbeatTimeout)
				err := ws.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdle)
		typ, data, err := ws.Read(readCtx)
		readCancel()
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				shutdown(websocket.StatusNormalClosure, "idle")
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("gateway: read failed", "conn_id", conn.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}
		if typ != websocket.MessageText {
			g.sendError(conn, "bad_frame", "text frames only")
			continue
		}

		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			g.sendError(conn, "bad_json", "invalid JSON")
			continue
		}

		g.dispatch(ctx, conn, sub, ev)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// dispatch routes one inbound event. Events are handled strictly in receipt
// order on the read goroutine.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, sub signal.Subscription, ev clientEvent) {
	switch ev.Type {
	case signal.EventCallInvite:
		res, err := g.calls.Invite(ctx, conn.ID, call.InviteInput{
			RoomID:       ev.RoomID,
			CallerID:     conn.UserID,
			Participants: ev.Participants,
			MediaType:    call.MediaType(ev.MediaType),
			Metadata:     ev.Metadata,
		})
		if err != nil {
			g.sendError(conn, errorCode(err), "invite failed")
			return
		}
		g.joinCallTopic(ctx, sub, ev.RoomID)
		g.sendCredentials(conn, ev.RoomID, res.Credentials)

	case signal.EventCallAnswer:
		creds, err := g.calls.Answer(ctx, ev.RoomID, conn.UserID)
		if err != nil {
			g.sendError(conn, errorCode(err), "answer failed")
			return
		}
		g.joinCallTopic(ctx, sub, ev.RoomID)
		g.sendCredentials(conn, ev.RoomID, creds)

	case signal.EventCallDecline:
		if err := g.calls.Decline(ctx, ev.RoomID, conn.UserID, ev.Reason); err != nil {
			g.sendError(conn, errorCode(err), "decline failed")
		}

	case signal.EventCallEnd:
		err := g.calls.End(ctx, ev.RoomID, conn.UserID, ev.Reason)
		if err != nil && !errors.Is(err, call.ErrNotFound) {
			g.sendError(conn, errorCode(err), "end failed")
			return
		}
		if rerr := sub.Remove(ctx, signal.CallTopic(ev.RoomID)); rerr != nil {
			g.log.Warn("gateway: leave call topic failed", "room_id", ev.RoomID, "err", rerr)
		}

	case signal.EventCallToggleMedia:
		if err := g.calls.ToggleMedia(ctx, ev.RoomID, conn.UserID, ev.Kind, ev.Enabled); err != nil {
			g.sendError(conn, errorCode(err), "toggle failed")
		}

	default:
		g.sendError(conn, "unsupported", "unsupported event type: "+ev.Type)
	}
}

func (g *Gateway) joinCallTopic(ctx context.Context, sub signal.Subscription, roomID string) {
	if err := sub.Add(ctx, signal.CallTopic(roomID)); err != nil {
		g.log.Warn("gateway: join call topic failed", "room_id", roomID, "err", err)
	}
}

func (g *Gateway) sendCredentials(conn *Conn, roomID string, creds call.Credentials) {
	conn.TrySend(signal.Event{
		Type:   signal.EventCallCredentials,
		RoomID: roomID,
		Payload: map[string]any{
			"credentials": creds,
		},
		At: g.clock().UTC(),
	})
}

func (g *Gateway) sendError(conn *Conn, code, message string) {
	conn.TrySend(signal.Event{
		Type: signal.EventError,
		Payload: map[string]any{
			"code":    code,
			"message": message,
		},
		At: g.clock().UTC(),
	})
}

func (g *Gateway) writeEvent(ctx context.Context, ws *websocket.Conn, ev signal.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, data)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, call.ErrNotFound):
		return "not_found"
	case errors.Is(err, call.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, call.ErrTerminal):
		return "call_over"
	case errors.Is(err, call.ErrInvalidArgument):
		return "bad_request"
	default:
		return "internal"
	}
}
