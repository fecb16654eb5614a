// Package ledger is the persistent record reconciling live-document and
// backup state. It is the single source of truth: any component that needs
// the current liveRef must re-read it here, never cache it.
package ledger

import (
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/rs/zerolog"
)

var ledgerLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	ledgerLogger = l
}

// UpdateFields is a partial update: only non-nil fields are written, so
// concurrent updates to different fields of the same draft merge instead of
// overwriting each other.
type UpdateFields struct {
	Title        *string
	LiveRef      *string
	BackupPath   *string
	Status       *model.DraftStatus
	IsShared     *bool
	LastSyncedAt *time.Time
	LastOpenedAt *time.Time
}

type Ledger interface {
	Create(draft *model.Draft) (*model.Draft, error)
	Get(id model.DraftID) (*model.Draft, error)
	GetByLiveRef(ref string) (*model.Draft, error)

	// Update applies a field-level partial merge. Updates touching LiveRef,
	// BackupPath, or Status are rejected with ErrFinalized once the draft is
	// FINALIZED.
	Update(id model.DraftID, fields UpdateFields) (*model.Draft, error)

	// ClaimBackupPath assigns path if no backup path exists yet and returns
	// the winning path either way (first-writer-wins).
	ClaimBackupPath(id model.DraftID, path string) (string, error)

	Delete(id model.DraftID) error
}
