package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
)

type countingSync struct {
	mu    sync.Mutex
	calls map[model.DraftID]int
	err   error
	done  chan model.DraftID
}

func newCountingSync() *countingSync {
	return &countingSync{
		calls: make(map[model.DraftID]int),
		done:  make(chan model.DraftID, 16),
	}
}

func (c *countingSync) run(ctx context.Context, draftID model.DraftID) error {
	c.mu.Lock()
	c.calls[draftID]++
	err := c.err
	c.mu.Unlock()
	c.done <- draftID
	return err
}

func (c *countingSync) count(draftID model.DraftID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[draftID]
}

func (c *countingSync) waitFired(t *testing.T, timeout time.Duration) model.DraftID {
	t.Helper()
	select {
	case id := <-c.done:
		return id
	case <-time.After(timeout):
		t.Fatal("Sync did not fire in time")
		return ""
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	cs := newCountingSync()
	d := NewDebouncer(50*time.Millisecond, cs.run)
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Notify("draft-1")
	}

	cs.waitFired(t, time.Second)
	if got := cs.count("draft-1"); got != 1 {
		t.Errorf("Expected one sync for the burst, got %d", got)
	}
	if d.Pending("draft-1") {
		t.Error("Draft should be idle after the window fired")
	}
}

func TestDebouncerWindowRestartsFromLastNotification(t *testing.T) {
	cs := newCountingSync()
	d := NewDebouncer(120*time.Millisecond, cs.run)
	defer d.Stop()

	d.Notify("draft-1")

	// Keep poking inside the window; no sync may fire while edits continue.
	for i := 0; i < 4; i++ {
		time.Sleep(60 * time.Millisecond)
		d.Notify("draft-1")
	}
	if got := cs.count("draft-1"); got != 0 {
		t.Fatalf("Sync fired during active editing: %d", got)
	}

	cs.waitFired(t, time.Second)
	if got := cs.count("draft-1"); got != 1 {
		t.Errorf("Expected exactly one sync, got %d", got)
	}
}

func TestDebouncerIndependentDrafts(t *testing.T) {
	cs := newCountingSync()
	d := NewDebouncer(30*time.Millisecond, cs.run)
	defer d.Stop()

	d.Notify("draft-1")
	d.Notify("draft-2")
	d.Notify("draft-1")

	cs.waitFired(t, time.Second)
	cs.waitFired(t, time.Second)

	if got := cs.count("draft-1"); got != 1 {
		t.Errorf("draft-1: expected 1 sync, got %d", got)
	}
	if got := cs.count("draft-2"); got != 1 {
		t.Errorf("draft-2: expected 1 sync, got %d", got)
	}
}

func TestDebouncerIdleAfterFailure(t *testing.T) {
	cs := newCountingSync()
	cs.err = errors.New("sync failed")
	d := NewDebouncer(30*time.Millisecond, cs.run)
	defer d.Stop()

	d.Notify("draft-1")
	cs.waitFired(t, time.Second)

	// Failure drops the draft back to idle: no retry loop, the next edit
	// opens a fresh window.
	time.Sleep(100 * time.Millisecond)
	if got := cs.count("draft-1"); got != 1 {
		t.Errorf("Expected no retries after failure, got %d calls", got)
	}
	if d.Pending("draft-1") {
		t.Error("Draft should be idle after a failed sync")
	}

	cs.err = nil
	d.Notify("draft-1")
	cs.waitFired(t, time.Second)
	if got := cs.count("draft-1"); got != 2 {
		t.Errorf("Expected a fresh window to fire, got %d calls", got)
	}
}

func TestDebouncerStopDiscardsPending(t *testing.T) {
	cs := newCountingSync()
	d := NewDebouncer(time.Hour, cs.run)

	d.Notify("draft-1")
	if !d.Pending("draft-1") {
		t.Fatal("Expected draft to be pending")
	}

	d.Stop()
	if got := cs.count("draft-1"); got != 0 {
		t.Errorf("Stop must not fire pending windows, got %d calls", got)
	}

	// Notifications after Stop are dropped.
	d.Notify("draft-2")
	if d.Pending("draft-2") {
		t.Error("Notify after Stop should be a no-op")
	}
}
