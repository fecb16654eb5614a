package model

import "errors"

// Error taxonomy shared across components. Callers match with errors.Is and
// wrap with fmt.Errorf("...: %w", err) to add context.
var (
	// ErrNotFound: the draft or the external document is absent. Terminal for
	// the current request, not retried.
	ErrNotFound = errors.New("not found")

	// ErrTrashed: the external document was soft-deleted. Triggers recovery
	// rather than a hard failure.
	ErrTrashed = errors.New("document trashed")

	// ErrPermissionDenied: credential or authorization problem with the
	// provider. Surfaced to the caller, never retried blindly.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnrecoverableLoss: the live document is gone and no backup exists.
	ErrUnrecoverableLoss = errors.New("unrecoverable loss: no backup exists")

	// ErrRecoveryVerificationFailed: a recreated document failed the
	// post-recreation existence probe. Safe to retry the whole open.
	ErrRecoveryVerificationFailed = errors.New("recovery verification failed")

	// ErrQuotaExceeded: provider-side capacity limit. Retriable later.
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrFinalized: the draft is FINALIZED and the requested mutation is
	// not permitted.
	ErrFinalized = errors.New("draft is finalized")
)
