package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
)

// SyncFunc runs one sync for a draft. The debouncer treats any error as
// final for the burst: it is logged and the draft drops back to idle, since
// the next edit notification naturally re-triggers a sync.
type SyncFunc func(ctx context.Context, draftID model.DraftID) error

// Debouncer coalesces change notifications per draft: the first notification
// moves the draft to pending and starts the quiet-period timer, further ones
// restart it, and expiry fires the sync exactly once. Each pending draft is
// owned by a single worker goroutine driven by a channel, so there is no
// shared timer state to lock around.
//
// Pending state is in-memory only; a restart just means the next
// notification opens a fresh window.
type Debouncer struct {
	window time.Duration
	run    SyncFunc

	mu      sync.Mutex
	pending map[model.DraftID]chan struct{}
	stopped bool

	quit chan struct{}
	wg   sync.WaitGroup
}

func NewDebouncer(window time.Duration, run SyncFunc) *Debouncer {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Debouncer{
		window:  window,
		run:     run,
		pending: make(map[model.DraftID]chan struct{}),
		quit:    make(chan struct{}),
	}
}

// Notify records a change notification for the draft. Never blocks.
func (d *Debouncer) Notify(draftID model.DraftID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if ch, ok := d.pending[draftID]; ok {
		// Already pending: coalesce, the worker restarts its timer.
		select {
		case ch <- struct{}{}:
		default:
		}
		return
	}

	ch := make(chan struct{}, 1)
	d.pending[draftID] = ch
	d.wg.Add(1)
	go d.worker(draftID, ch)
}

// Pending reports whether the draft currently has an open quiet window.
func (d *Debouncer) Pending(draftID model.DraftID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[draftID]
	return ok
}

// Stop discards all open windows without firing them and waits for workers
// to exit.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.quit)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Debouncer) worker(draftID model.DraftID, ch chan struct{}) {
	defer d.wg.Done()

	timer := time.NewTimer(d.window)
	defer timer.Stop()

	for {
		select {
		case <-d.quit:
			d.mu.Lock()
			delete(d.pending, draftID)
			d.mu.Unlock()
			return

		case <-ch:
			// Another edit landed: the quiet window restarts from the most
			// recent notification.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.window)

		case <-timer.C:
			d.mu.Lock()
			select {
			case <-ch:
				// A notification raced the expiry; keep the window open.
				d.mu.Unlock()
				timer.Reset(d.window)
				continue
			default:
			}
			delete(d.pending, draftID)
			d.mu.Unlock()

			if err := d.run(context.Background(), draftID); err != nil {
				syncLogger.Error().
					Err(err).
					Str("draft_id", string(draftID)).
					Msg("Debounced sync failed")
			}
			return
		}
	}
}
