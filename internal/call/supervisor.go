package call

import (
	"sync"
	"time"
)

// Supervisor tracks the single scheduled timeout task each armed call owns.
// Entries are keyed by room id and additionally grouped by the owning
// connection, so connection teardown can sweep every watchdog it armed.
//
// A cancelled timeout never fires: Cancel stops the timer and removes the
// entry under the lock, and a firing timer re-checks its entry before
// running the callback.
type Supervisor struct {
	mu     sync.Mutex
	timers map[string]*watchdog          // roomID -> entry
	byConn map[string]map[string]struct{} // connID -> roomIDs
}

type watchdog struct {
	connID string
	timer  *time.Timer
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		timers: make(map[string]*watchdog),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Arm schedules fire(roomID) after d. Arming is once per call: a second Arm
// for a room that already owns a watchdog is a no-op and returns false.
func (s *Supervisor) Arm(connID, roomID string, d time.Duration, fire func(roomID string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[roomID]; ok {
		return false
	}

	w := &watchdog{connID: connID}
	w.timer = time.AfterFunc(d, func() {
		if !s.remove(roomID, w) {
			return // cancelled between firing and acquiring the lock
		}
		fire(roomID)
	})
	s.timers[roomID] = w

	set, ok := s.byConn[connID]
	if !ok {
		set = make(map[string]struct{})
		s.byConn[connID] = set
	}
	set[roomID] = struct{}{}
	return true
}

// Cancel stops the watchdog for roomID, if armed.
func (s *Supervisor) Cancel(roomID string) bool {
	s.mu.Lock()
	w, ok := s.timers[roomID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	w.timer.Stop()
	return s.remove(roomID, w)
}

// CancelOwned sweeps every watchdog armed by connID. Called on connection
// teardown so a vanished connection leaks no scheduled work.
func (s *Supervisor) CancelOwned(connID string) int {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.byConn[connID]))
	for roomID := range s.byConn[connID] {
		rooms = append(rooms, roomID)
	}
	s.mu.Unlock()

	n := 0
	for _, roomID := range rooms {
		if s.Cancel(roomID) {
			n++
		}
	}
	return n
}

// Active reports the number of armed watchdogs.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// remove deletes the entry if it still points at w. Returns false when the
// entry was already cancelled or replaced.
func (s *Supervisor) remove(roomID string, w *watchdog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.timers[roomID]
	if !ok || cur != w {
		return false
	}
	delete(s.timers, roomID)
	if set, ok := s.byConn[w.connID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(s.byConn, w.connID)
		}
	}
	return true
}
