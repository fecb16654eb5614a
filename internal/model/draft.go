// Package model defines core data structures and types for the draft service.
package model

import (
	"time"
)

type DraftID string

type UserID string

// DraftStatus is the lifecycle state of a draft. FINALIZED is terminal:
// no further mutation of LiveRef, BackupPath, or content is permitted.
type DraftStatus string

const (
	StatusActive    DraftStatus = "ACTIVE"
	StatusFinalized DraftStatus = "FINALIZED"
)

// ExportFormat selects the rendering the provider produces for a backup.
type ExportFormat string

const (
	FormatDocx ExportFormat = "docx"
	FormatPDF  ExportFormat = "pdf"
)

// MimeType returns the provider-side MIME type for the format.
func (f ExportFormat) MimeType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
}

// Valid reports whether f is one of the supported export formats.
func (f ExportFormat) Valid() bool {
	return f == FormatDocx || f == FormatPDF
}

// Draft is the canonical entity reconciling the live document and its backup.
type Draft struct {
	ID    DraftID
	Owner UserID
	Title string

	// LiveRef points at the document in the external editing provider.
	// It changes whenever the document is recreated after loss, so it must
	// always be re-read from the ledger, never cached.
	LiveRef string

	// BackupPath is assigned once, lazily, on first successful export and is
	// stable for the life of the draft. Empty means no backup exists yet.
	BackupPath string

	Status   DraftStatus
	IsShared bool

	LastSyncedAt time.Time
	LastOpenedAt time.Time
	CreatedAt    time.Time
}

// Finalized reports whether the draft has reached its terminal state.
func (d *Draft) Finalized() bool {
	return d.Status == StatusFinalized
}
