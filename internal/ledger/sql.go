package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/db"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/google/uuid"
)

const draftColumns = `id, owner, title, live_ref, backup_path, status, is_shared, last_synced_at, last_opened_at, created_at`

type SQLLedger struct { // implements Ledger
	db db.DB
}

func NewSQLLedger(db db.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// NewDraft returns a Draft with a fresh id and creation timestamp. The row
// is not persisted until Create is called.
func NewDraft(owner model.UserID, title string) *model.Draft {
	return &model.Draft{
		ID:        model.DraftID(uuid.New().String()),
		Owner:     owner,
		Title:     title,
		Status:    model.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
}

func (l *SQLLedger) Create(draft *model.Draft) (*model.Draft, error) {
	if draft.ID == "" {
		draft.ID = model.DraftID(uuid.New().String())
	}
	if draft.Status == "" {
		draft.Status = model.StatusActive
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.Exec(
		`INSERT INTO drafts (id, owner, title, live_ref, backup_path, status, is_shared, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.Owner, draft.Title, draft.LiveRef, draft.BackupPath, draft.Status, draft.IsShared, draft.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating draft: %w", err)
	}

	ledgerLogger.Debug().Str("draft_id", string(draft.ID)).Msg("Draft created")
	return draft, nil
}

func (l *SQLLedger) Get(id model.DraftID) (*model.Draft, error) {
	row := l.db.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id)
	return scanDraft(row)
}

func (l *SQLLedger) GetByLiveRef(ref string) (*model.Draft, error) {
	if ref == "" {
		return nil, model.ErrNotFound
	}
	row := l.db.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE live_ref = ?`, ref)
	return scanDraft(row)
}

func (l *SQLLedger) Update(id model.DraftID, fields UpdateFields) (*model.Draft, error) {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)

	guarded := false

	if fields.Title != nil {
		set = append(set, "title = ?")
		args = append(args, *fields.Title)
	}
	if fields.LiveRef != nil {
		set = append(set, "live_ref = ?")
		args = append(args, *fields.LiveRef)
		guarded = true
	}
	if fields.BackupPath != nil {
		set = append(set, "backup_path = ?")
		args = append(args, *fields.BackupPath)
		guarded = true
	}
	if fields.Status != nil {
		set = append(set, "status = ?")
		args = append(args, *fields.Status)
		guarded = true
	}
	if fields.IsShared != nil {
		set = append(set, "is_shared = ?")
		args = append(args, *fields.IsShared)
	}
	if fields.LastSyncedAt != nil {
		set = append(set, "last_synced_at = ?")
		args = append(args, fields.LastSyncedAt.UTC())
	}
	if fields.LastOpenedAt != nil {
		set = append(set, "last_opened_at = ?")
		args = append(args, fields.LastOpenedAt.UTC())
	}

	if len(set) == 0 {
		return l.Get(id)
	}

	query := `UPDATE drafts SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if guarded {
		// Compare-and-set: content-affecting fields never change once the
		// draft is FINALIZED.
		query += ` AND status != ?`
		args = append(args, model.StatusFinalized)
	}

	res, err := l.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error updating draft: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("error reading update result: %w", err)
	}
	if affected == 0 {
		// Either the row is missing or the guard fired; Get disambiguates.
		draft, err := l.Get(id)
		if err != nil {
			return nil, err
		}
		if draft.Finalized() {
			return nil, fmt.Errorf("draft %s: %w", id, model.ErrFinalized)
		}
		return draft, nil
	}

	return l.Get(id)
}

func (l *SQLLedger) ClaimBackupPath(id model.DraftID, path string) (string, error) {
	_, err := l.db.Exec(
		`UPDATE drafts SET backup_path = ? WHERE id = ? AND backup_path = '' AND status != ?`,
		path, id, model.StatusFinalized,
	)
	if err != nil {
		return "", fmt.Errorf("error claiming backup path: %w", err)
	}

	draft, err := l.Get(id)
	if err != nil {
		return "", err
	}
	if draft.Finalized() && draft.BackupPath == "" {
		return "", fmt.Errorf("draft %s: %w", id, model.ErrFinalized)
	}
	if draft.BackupPath != path {
		ledgerLogger.Debug().
			Str("draft_id", string(id)).
			Str("kept", draft.BackupPath).
			Str("lost", path).
			Msg("Backup path already claimed")
	}
	return draft.BackupPath, nil
}

func (l *SQLLedger) Delete(id model.DraftID) error {
	res, err := l.db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("error deleting draft: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading delete result: %w", err)
	}
	if affected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanDraft(row *sql.Row) (*model.Draft, error) {
	var draft model.Draft
	var lastSynced, lastOpened sql.NullTime

	err := row.Scan(
		&draft.ID, &draft.Owner, &draft.Title, &draft.LiveRef, &draft.BackupPath,
		&draft.Status, &draft.IsShared, &lastSynced, &lastOpened, &draft.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning draft: %w", err)
	}

	if lastSynced.Valid {
		draft.LastSyncedAt = lastSynced.Time
	}
	if lastOpened.Valid {
		draft.LastOpenedAt = lastOpened.Time
	}
	return &draft, nil
}
