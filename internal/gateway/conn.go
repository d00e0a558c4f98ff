package gateway

import (
	"sync"

	"messenger-platform/internal/signal"
)

// Conn is one connected websocket session.
//
// Send is never closed by the server: broadcasters may still hold a
// reference while the connection tears down, and a send on a closed channel
// would panic. Shutdown is signaled through done instead; Close is
// idempotent.
type Conn struct {
	ID     string
	UserID string
	Send   chan signal.Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(id, userID string, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Conn{
		ID:     id,
		UserID: userID,
		Send:   make(chan signal.Event, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close signals the connection goroutines to stop. It does not close Send.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// TrySend enqueues ev without blocking. A full queue drops the event: a
// client that cannot drain its queue is effectively gone and the reliability
// paths (timeout, snapshot) cover it.
func (c *Conn) TrySend(ev signal.Event) bool {
	select {
	case <-c.done:
		return false
	case c.Send <- ev:
		return true
	default:
		return false
	}
}
