// Package syncer captures live-document changes into durable backups: the
// executor exports and overwrites the backup blob, the debouncer collapses
// notification bursts into single executor runs.
package syncer

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/backup"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/draftkeeper/draftkeeper/internal/util"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var syncLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	syncLogger = l
}

// Result reports a completed sync. ContentHash is the sha256 of the exported
// bytes as written to the blob store.
type Result struct {
	BackupPath  string    `json:"backupPath"`
	ContentHash string    `json:"contentHash"`
	SyncedAt    time.Time `json:"syncedAt"`
}

// Executor exports the current live document and overwrites the backup blob.
// At most one sync per draft is in flight at a time: concurrent callers for
// the same draft join the running execution and share its result.
type Executor struct {
	ledger   ledger.Ledger
	store    backup.Store
	provider provider.Provider

	pathPrefix  string
	callTimeout time.Duration

	group singleflight.Group
}

func NewExecutor(l ledger.Ledger, store backup.Store, p provider.Provider, pathPrefix string, callTimeout time.Duration) *Executor {
	return &Executor{
		ledger:      l,
		store:       store,
		provider:    p,
		pathPrefix:  pathPrefix,
		callTimeout: callTimeout,
	}
}

// Sync exports draft's live document in the given format and overwrites its
// backup blob. The ledger's lastSyncedAt advances only after the blob write
// succeeded, so a failed write never reports success.
func (e *Executor) Sync(ctx context.Context, draftID model.DraftID, format model.ExportFormat) (*Result, error) {
	res, err, shared := e.group.Do(string(draftID), func() (interface{}, error) {
		return e.sync(draftID, format)
	})
	if shared {
		syncLogger.Debug().Str("draft_id", string(draftID)).Msg("Joined in-flight sync")
	}
	if err != nil {
		return nil, err
	}
	return res.(*Result), nil
}

func (e *Executor) sync(draftID model.DraftID, format model.ExportFormat) (*Result, error) {
	// The execution is detached from any single caller's context: joined
	// callers must not be failed by the first caller hanging up. The bounded
	// timeout keeps a stuck provider call from holding the gate.
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()

	draft, err := e.ledger.Get(draftID)
	if err != nil {
		return nil, err
	}
	if draft.Finalized() {
		return nil, fmt.Errorf("sync draft %s: %w", draftID, model.ErrFinalized)
	}
	if draft.LiveRef == "" {
		return nil, fmt.Errorf("sync draft %s: no live document: %w", draftID, model.ErrNotFound)
	}

	backupPath := draft.BackupPath
	if backupPath == "" {
		// Deterministic derivation plus the ledger's first-writer-wins claim
		// guarantee two concurrent first-syncs settle on one path.
		derived := DeriveBackupPath(e.pathPrefix, draft)
		backupPath, err = e.ledger.ClaimBackupPath(draftID, derived)
		if err != nil {
			return nil, err
		}
	}

	data, err := e.provider.Export(ctx, draft.LiveRef, format)
	if err != nil {
		// NotFound/Trashed mean the document is lost; surfaced distinctly so
		// the caller can decide to run recovery first. Never skipped quietly.
		return nil, fmt.Errorf("export draft %s: %w", draftID, err)
	}

	if err := e.store.Put(ctx, backupPath, data, format.MimeType()); err != nil {
		return nil, fmt.Errorf("write backup for draft %s: %w", draftID, err)
	}

	now := time.Now().UTC()
	if _, err := e.ledger.Update(draftID, ledger.UpdateFields{LastSyncedAt: &now}); err != nil {
		return nil, fmt.Errorf("record sync for draft %s: %w", draftID, err)
	}

	hash := util.ContentHash(data)
	syncLogger.Info().
		Str("draft_id", string(draftID)).
		Str("backup_path", backupPath).
		Int("bytes", len(data)).
		Str("content_hash", hash).
		Str("format", string(format)).
		Msg("Draft synced")

	return &Result{BackupPath: backupPath, ContentHash: hash, SyncedAt: now}, nil
}

// DeriveBackupPath builds the stable blob path for a draft from its id,
// owner, and creation timestamp.
func DeriveBackupPath(prefix string, draft *model.Draft) string {
	name := fmt.Sprintf("%s-%d.bin", draft.ID, draft.CreatedAt.Unix())
	return path.Join(prefix, string(draft.Owner), name)
}
