// Package provider adapts the external editing provider that hosts the live,
// user-editable documents. The provider owns those documents and can trash or
// delete them at any moment, so every returned reference is a point-in-time
// fact, not a durable handle.
package provider

import (
	"context"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
)

// DocState distinguishes the three existence states a live document can be
// in. Recovery policy differs for each: missing and trashed both trigger
// recreation, active does not.
type DocState struct {
	Exists  bool
	Trashed bool
}

// Live reports whether the document exists and is not trashed.
func (s DocState) Live() bool {
	return s.Exists && !s.Trashed
}

// WatchChannel identifies a provider-side change-notification subscription.
// Subscriptions are non-extensible: renewal means registering a fresh channel.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	ExpiresAt  time.Time
}

type Provider interface {
	// CreateFromTemplate copies templateRef into a new, independently owned
	// document and returns its reference.
	CreateFromTemplate(ctx context.Context, templateRef, title string) (string, error)

	CreateBlank(ctx context.Context, title string) (string, error)

	// CreateFromBytes imports exported bytes as a new native document.
	CreateFromBytes(ctx context.Context, data []byte, sourceFormat model.ExportFormat, title string) (string, error)

	// Export renders the document to the target format. Fails with
	// ErrNotFound, ErrTrashed, or ErrPermissionDenied as appropriate.
	Export(ctx context.Context, liveRef string, format model.ExportFormat) ([]byte, error)

	// StateOf is a cheap existence probe.
	StateOf(ctx context.Context, liveRef string) (DocState, error)

	GrantAccess(ctx context.Context, liveRef, principal, role string) error

	Watch(ctx context.Context, liveRef, channelID, callbackURL string, ttl time.Duration) (*WatchChannel, error)

	StopWatch(ctx context.Context, channelID, resourceID string) error

	// EditURL builds the user-facing editor URL for a live reference.
	EditURL(liveRef string) string
}
