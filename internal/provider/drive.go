package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const docMimeType = "application/vnd.google-apps.document"

// DriveProvider implements Provider against the Google Drive v3 API.
type DriveProvider struct {
	service *drive.Service
}

// NewDriveProvider creates a DriveProvider. Credential acquisition is the
// caller's concern: pass option.WithHTTPClient, option.WithCredentialsFile,
// or nothing for application default credentials.
func NewDriveProvider(ctx context.Context, opts ...option.ClientOption) (*DriveProvider, error) {
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	return &DriveProvider{service: srv}, nil
}

func (d *DriveProvider) CreateFromTemplate(ctx context.Context, templateRef, title string) (string, error) {
	f := &drive.File{Name: title}
	res, err := d.service.Files.Copy(templateRef, f).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapDriveError(err)
	}
	return res.Id, nil
}

func (d *DriveProvider) CreateBlank(ctx context.Context, title string) (string, error) {
	f := &drive.File{Name: title, MimeType: docMimeType}
	res, err := d.service.Files.Create(f).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapDriveError(err)
	}
	return res.Id, nil
}

func (d *DriveProvider) CreateFromBytes(ctx context.Context, data []byte, sourceFormat model.ExportFormat, title string) (string, error) {
	// MimeType on the file requests conversion to a native document; the
	// media content type declares the uploaded format.
	f := &drive.File{Name: title, MimeType: docMimeType}
	res, err := d.service.Files.Create(f).
		Media(bytes.NewReader(data), googleapi.ContentType(sourceFormat.MimeType())).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", mapDriveError(err)
	}
	return res.Id, nil
}

func (d *DriveProvider) Export(ctx context.Context, liveRef string, format model.ExportFormat) ([]byte, error) {
	// The export endpoint serves trashed files, so probe trash state first to
	// keep NotFound and Trashed distinguishable for the caller.
	state, err := d.StateOf(ctx, liveRef)
	if err != nil {
		return nil, err
	}
	if !state.Exists {
		return nil, fmt.Errorf("document %s: %w", liveRef, model.ErrNotFound)
	}
	if state.Trashed {
		return nil, fmt.Errorf("document %s: %w", liveRef, model.ErrTrashed)
	}

	resp, err := d.service.Files.Export(liveRef, format.MimeType()).Context(ctx).Download()
	if err != nil {
		return nil, mapDriveError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read export stream: %w", err)
	}
	return data, nil
}

func (d *DriveProvider) StateOf(ctx context.Context, liveRef string) (DocState, error) {
	f, err := d.service.Files.Get(liveRef).
		SupportsAllDrives(true).
		Fields("id, trashed").
		Context(ctx).
		Do()
	if err != nil {
		if isNotFound(err) {
			return DocState{Exists: false}, nil
		}
		return DocState{}, mapDriveError(err)
	}
	return DocState{Exists: true, Trashed: f.Trashed}, nil
}

func (d *DriveProvider) GrantAccess(ctx context.Context, liveRef, principal, role string) error {
	p := &drive.Permission{
		Type:         "user",
		Role:         role,
		EmailAddress: principal,
	}
	_, err := d.service.Permissions.Create(liveRef, p).
		SupportsAllDrives(true).
		SendNotificationEmail(false).
		Context(ctx).
		Do()
	if err != nil {
		return mapDriveError(err)
	}
	return nil
}

func (d *DriveProvider) Watch(ctx context.Context, liveRef, channelID, callbackURL string, ttl time.Duration) (*WatchChannel, error) {
	ch := &drive.Channel{
		Id:         channelID,
		Type:       "web_hook",
		Address:    callbackURL,
		Expiration: time.Now().Add(ttl).UnixMilli(),
	}
	res, err := d.service.Files.Watch(liveRef, ch).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapDriveError(err)
	}
	return &WatchChannel{
		ChannelID:  res.Id,
		ResourceID: res.ResourceId,
		ExpiresAt:  time.UnixMilli(res.Expiration),
	}, nil
}

func (d *DriveProvider) StopWatch(ctx context.Context, channelID, resourceID string) error {
	ch := &drive.Channel{Id: channelID, ResourceId: resourceID}
	if err := d.service.Channels.Stop(ch).Context(ctx).Do(); err != nil {
		return mapDriveError(err)
	}
	return nil
}

func (d *DriveProvider) EditURL(liveRef string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", liveRef)
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == 404
	}
	return false
}

// mapDriveError translates googleapi errors into the shared taxonomy.
func mapDriveError(err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return err
	}

	switch gErr.Code {
	case 404:
		return fmt.Errorf("%s: %w", gErr.Message, model.ErrNotFound)
	case 429:
		return fmt.Errorf("%s: %w", gErr.Message, model.ErrQuotaExceeded)
	case 403:
		for _, item := range gErr.Errors {
			switch item.Reason {
			case "quotaExceeded", "userRateLimitExceeded", "rateLimitExceeded", "storageQuotaExceeded":
				return fmt.Errorf("%s: %w", gErr.Message, model.ErrQuotaExceeded)
			}
		}
		return fmt.Errorf("%s: %w", gErr.Message, model.ErrPermissionDenied)
	}
	return err
}
