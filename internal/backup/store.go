// Package backup stores durable exported snapshots as opaque blobs. Blobs are
// the reconstruction source when the live document is lost, so Put must be a
// full overwrite and Get must return exactly the bytes that were put.
package backup

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

var backupLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	backupLogger = l
}

type Store interface {
	// Put writes data at path with full-overwrite semantics.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// Get returns the blob bytes, or model.ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the blob. Never called implicitly; blob deletion is an
	// explicit operation separate from draft deletion.
	Delete(ctx context.Context, path string) error

	// SignedReadURL returns a time-limited URL for direct blob download.
	SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
