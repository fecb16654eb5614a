// Package recovery verifies a draft's live document on open and recreates it
// from the backup blob when the provider has deleted or trashed it.
package recovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/backup"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/draftkeeper/draftkeeper/internal/watch"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var recoveryLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	recoveryLogger = l
}

// OpenResult is the verified live reference handed back to an open request.
type OpenResult struct {
	LiveRef   string
	Recreated bool
}

// Orchestrator runs the verify-or-recreate flow. Concurrent opens of the
// same draft are single-flighted: the second caller waits for the first
// recreation and observes its result instead of creating a duplicate copy.
type Orchestrator struct {
	ledger   ledger.Ledger
	store    backup.Store
	provider provider.Provider
	watches  *watch.Manager

	callTimeout time.Duration

	group singleflight.Group
}

func NewOrchestrator(l ledger.Ledger, store backup.Store, p provider.Provider, w *watch.Manager, callTimeout time.Duration) *Orchestrator {
	return &Orchestrator{
		ledger:      l,
		store:       store,
		provider:    p,
		watches:     w,
		callTimeout: callTimeout,
	}
}

// EnsureLive returns a live reference that has been verified to exist and
// not be trashed, recreating the document from backup if necessary. It never
// returns an unverified reference.
func (o *Orchestrator) EnsureLive(ctx context.Context, draftID model.DraftID) (*OpenResult, error) {
	res, err, _ := o.group.Do(string(draftID), func() (interface{}, error) {
		return o.ensureLive(draftID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*OpenResult), nil
}

func (o *Orchestrator) ensureLive(draftID model.DraftID) (*OpenResult, error) {
	// Detached from the caller's context so a joined waiter is not failed by
	// the first caller hanging up; bounded so a stuck provider call releases
	// the per-draft gate.
	ctx, cancel := context.WithTimeout(context.Background(), o.callTimeout)
	defer cancel()

	draft, err := o.ledger.Get(draftID)
	if err != nil {
		return nil, err
	}

	if draft.LiveRef != "" {
		state, err := o.provider.StateOf(ctx, draft.LiveRef)
		if err != nil {
			return nil, fmt.Errorf("probe draft %s: %w", draftID, err)
		}
		if state.Live() {
			return &OpenResult{LiveRef: draft.LiveRef, Recreated: false}, nil
		}
		recoveryLogger.Warn().
			Str("draft_id", string(draftID)).
			Str("live_ref", draft.LiveRef).
			Bool("exists", state.Exists).
			Bool("trashed", state.Trashed).
			Msg("Live document lost, recreating from backup")
	}

	// Everything below mutates the draft.
	if draft.Finalized() {
		return nil, fmt.Errorf("recover draft %s: %w", draftID, model.ErrFinalized)
	}

	if draft.BackupPath == "" {
		// No export ever succeeded; there is nothing to reconstruct from.
		// This must reach the user, never be papered over.
		return nil, fmt.Errorf("draft %s: %w", draftID, model.ErrUnrecoverableLoss)
	}

	data, err := o.store.Get(ctx, draft.BackupPath)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("draft %s: backup blob missing: %w", draftID, model.ErrUnrecoverableLoss)
		}
		return nil, fmt.Errorf("read backup for draft %s: %w", draftID, err)
	}

	newRef, err := o.provider.CreateFromBytes(ctx, data, detectFormat(data), draft.Title)
	if err != nil {
		return nil, fmt.Errorf("recreate draft %s: %w", draftID, err)
	}

	// The creator owns the new copy natively, so the owner holds access again.
	shared := true
	now := time.Now().UTC()
	if _, err := o.ledger.Update(draftID, ledger.UpdateFields{
		LiveRef:      &newRef,
		IsShared:     &shared,
		LastSyncedAt: &now,
	}); err != nil {
		return nil, fmt.Errorf("repoint draft %s: %w", draftID, err)
	}

	// Verify before handing the reference to anyone.
	state, err := o.provider.StateOf(ctx, newRef)
	if err != nil {
		return nil, fmt.Errorf("verify recreated draft %s: %w", draftID, err)
	}
	if !state.Live() {
		return nil, fmt.Errorf("draft %s: recreated document %s not live: %w", draftID, newRef, model.ErrRecoveryVerificationFailed)
	}

	// Watch re-registration is best-effort: its failure costs automatic
	// syncs, not the open.
	if o.watches != nil {
		if _, err := o.watches.Register(ctx, draftID, newRef); err != nil {
			recoveryLogger.Warn().
				Err(err).
				Str("draft_id", string(draftID)).
				Msg("Failed to re-register watch after recovery")
		}
	}

	recoveryLogger.Info().
		Str("draft_id", string(draftID)).
		Str("live_ref", newRef).
		Msg("Draft recreated from backup")

	return &OpenResult{LiveRef: newRef, Recreated: true}, nil
}

// detectFormat sniffs the blob's format so the provider converts the backup
// correctly on import.
func detectFormat(data []byte) model.ExportFormat {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return model.FormatPDF
	}
	return model.FormatDocx
}
