package call

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisorArmOncePerRoom(t *testing.T) {
	sup := NewSupervisor()
	noop := func(string) {}

	if !sup.Arm("conn-1", "r1", time.Hour, noop) {
		t.Fatal("first Arm returned false")
	}
	if sup.Arm("conn-2", "r1", time.Hour, noop) {
		t.Fatal("second Arm for same room returned true")
	}
	if sup.Active() != 1 {
		t.Fatalf("active = %d, want 1", sup.Active())
	}
}

func TestSupervisorFires(t *testing.T) {
	sup := NewSupervisor()
	fired := make(chan string, 1)

	sup.Arm("conn-1", "r1", 10*time.Millisecond, func(roomID string) { fired <- roomID })

	select {
	case roomID := <-fired:
		if roomID != "r1" {
			t.Fatalf("fired for %q", roomID)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	if sup.Active() != 0 {
		t.Fatalf("active = %d after firing, want 0", sup.Active())
	}
}

func TestSupervisorCancelPreventsFire(t *testing.T) {
	sup := NewSupervisor()
	var fired atomic.Int32

	sup.Arm("conn-1", "r1", 20*time.Millisecond, func(string) { fired.Add(1) })
	if !sup.Cancel("r1") {
		t.Fatal("Cancel returned false for armed room")
	}
	if sup.Cancel("r1") {
		t.Fatal("Cancel returned true for already-cancelled room")
	}

	time.Sleep(60 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("cancelled watchdog fired %d times", n)
	}
}

func TestSupervisorCancelOwned(t *testing.T) {
	sup := NewSupervisor()
	var fired atomic.Int32
	cb := func(string) { fired.Add(1) }

	sup.Arm("conn-1", "r1", time.Hour, cb)
	sup.Arm("conn-1", "r2", time.Hour, cb)
	sup.Arm("conn-2", "r3", time.Hour, cb)

	if n := sup.CancelOwned("conn-1"); n != 2 {
		t.Fatalf("CancelOwned = %d, want 2", n)
	}
	if sup.Active() != 1 {
		t.Fatalf("active = %d, want 1", sup.Active())
	}
	if n := sup.CancelOwned("conn-1"); n != 0 {
		t.Fatalf("repeated CancelOwned = %d, want 0", n)
	}
	sup.Cancel("r3")
}
