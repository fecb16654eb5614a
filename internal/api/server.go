// Package api exposes the draft lifecycle over HTTP and receives provider
// push notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/auth"
	"github.com/draftkeeper/draftkeeper/internal/backup"
	"github.com/draftkeeper/draftkeeper/internal/config"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/draftkeeper/draftkeeper/internal/recovery"
	"github.com/draftkeeper/draftkeeper/internal/syncer"
	"github.com/draftkeeper/draftkeeper/internal/watch"
	"github.com/rs/zerolog"
)

var apiLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	apiLogger = l
}

// ownerRole is the provider-side role granted to a draft's owner.
const ownerRole = "writer"

type Server struct {
	ledger    ledger.Ledger
	store     backup.Store
	provider  provider.Provider
	executor  *syncer.Executor
	debouncer *syncer.Debouncer
	recovery  *recovery.Orchestrator
	watches   *watch.Manager
	auth      auth.AuthProvider

	templateRef   string
	defaultFormat model.ExportFormat
	signedURLTTL  time.Duration
}

type ServerOptions struct {
	Ledger    ledger.Ledger
	Store     backup.Store
	Provider  provider.Provider
	Executor  *syncer.Executor
	Debouncer *syncer.Debouncer
	Recovery  *recovery.Orchestrator
	Watches   *watch.Manager
	Auth      auth.AuthProvider

	TemplateRef   string
	DefaultFormat model.ExportFormat
	SignedURLTTL  time.Duration
}

func NewServer(opts ServerOptions) *Server {
	format := opts.DefaultFormat
	if !format.Valid() {
		format = model.FormatDocx
	}
	return &Server{
		ledger:        opts.Ledger,
		store:         opts.Store,
		provider:      opts.Provider,
		executor:      opts.Executor,
		debouncer:     opts.Debouncer,
		recovery:      opts.Recovery,
		watches:       opts.Watches,
		auth:          opts.Auth,
		templateRef:   opts.TemplateRef,
		defaultFormat: format,
		signedURLTTL:  opts.SignedURLTTL,
	}
}

// Routes builds the request mux. Authenticated draft routes sit behind the
// auth middleware; the notification endpoint stays open because the provider
// posts to it without a session.
func (s *Server) Routes() http.Handler {
	secured := http.NewServeMux()
	secured.HandleFunc("POST /drafts", s.handleCreateDraft)
	secured.HandleFunc("GET /drafts/{id}/open", s.handleOpenDraft)
	secured.HandleFunc("POST /drafts/{id}/sync", s.handleSyncDraft)
	secured.HandleFunc("PATCH /drafts/{id}/finalize", s.handleFinalizeDraft)
	secured.HandleFunc("DELETE /drafts/{id}", s.handleDeleteDraft)
	secured.HandleFunc("DELETE /drafts/{id}/backup", s.handleDeleteBackup)
	secured.HandleFunc("GET /drafts/{id}/backup/url", s.handleBackupURL)

	mux := http.NewServeMux()
	mux.Handle("/drafts", s.auth.WithHeaderAuthorization()(secured))
	mux.Handle("/drafts/", s.auth.WithHeaderAuthorization()(secured))
	mux.HandleFunc("POST /notifications/provider", s.handleProviderNotification)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type createDraftRequest struct {
	Title string `json:"title"`
}

type draftResponse struct {
	ID           model.DraftID `json:"id"`
	Title        string        `json:"title"`
	LiveURL      string        `json:"liveUrl,omitempty"`
	Status       string        `json:"status"`
	BackupPath   string        `json:"backupPath,omitempty"`
	LastSyncedAt *time.Time    `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (s *Server) draftResponse(draft *model.Draft) draftResponse {
	resp := draftResponse{
		ID:         draft.ID,
		Title:      draft.Title,
		Status:     string(draft.Status),
		BackupPath: draft.BackupPath,
		CreatedAt:  draft.CreatedAt,
	}
	if draft.LiveRef != "" {
		resp.LiveURL = s.provider.EditURL(draft.LiveRef)
	}
	if !draft.LastSyncedAt.IsZero() {
		t := draft.LastSyncedAt
		resp.LastSyncedAt = &t
	}
	return resp
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.IdentityFromSession(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	var liveRef string
	if s.templateRef != "" {
		liveRef, err = s.provider.CreateFromTemplate(r.Context(), s.templateRef, req.Title)
	} else {
		liveRef, err = s.provider.CreateBlank(r.Context(), req.Title)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	shared := identity.Email != ""
	if shared {
		if err := s.provider.GrantAccess(r.Context(), liveRef, identity.Email, ownerRole); err != nil {
			apiLogger.Warn().Err(err).Str("live_ref", liveRef).Msg("Failed to grant owner access on create")
			shared = false
		}
	}

	draft := ledger.NewDraft(identity.ID, req.Title)
	draft.LiveRef = liveRef
	draft.IsShared = shared
	if _, err := s.ledger.Create(draft); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.watches.Register(r.Context(), draft.ID, liveRef); err != nil {
		apiLogger.Warn().Err(err).Str("draft_id", string(draft.ID)).Msg("Failed to register watch on create")
	}

	apiLogger.Info().
		Str("draft_id", string(draft.ID)).
		Str("owner", string(draft.Owner)).
		Msg("Draft created")
	s.writeJSON(w, http.StatusCreated, s.draftResponse(draft))
}

type openDraftResponse struct {
	LiveURL   string `json:"liveUrl"`
	Recreated bool   `json:"recreated"`
}

func (s *Server) handleOpenDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}

	res, err := s.recovery.EnsureLive(r.Context(), draft.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The live ref may have changed during recovery; re-read before deciding
	// whether access still needs granting.
	draft, err = s.ledger.Get(draft.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	fields := ledger.UpdateFields{LastOpenedAt: &now}
	if !draft.IsShared {
		identity, err := s.auth.IdentityFromSession(r)
		if err == nil && identity.Email != "" {
			if err := s.provider.GrantAccess(r.Context(), res.LiveRef, identity.Email, ownerRole); err != nil {
				apiLogger.Warn().Err(err).Str("draft_id", string(draft.ID)).Msg("Failed to grant access on open")
			} else {
				shared := true
				fields.IsShared = &shared
			}
		}
	}
	if _, err := s.ledger.Update(draft.ID, fields); err != nil && !errors.Is(err, model.ErrFinalized) {
		apiLogger.Warn().Err(err).Str("draft_id", string(draft.ID)).Msg("Failed to record open")
	}

	s.writeJSON(w, http.StatusOK, openDraftResponse{
		LiveURL:   s.provider.EditURL(res.LiveRef),
		Recreated: res.Recreated,
	})
}

type syncDraftRequest struct {
	Format model.ExportFormat `json:"format"`
}

func (s *Server) handleSyncDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}

	format := s.defaultFormat
	if r.Body != nil && r.ContentLength != 0 {
		var req syncDraftRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Format != "" {
			if !req.Format.Valid() {
				http.Error(w, "Unsupported export format", http.StatusBadRequest)
				return
			}
			format = req.Format
		}
	}

	res, err := s.executor.Sync(r.Context(), draft.ID, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFinalizeDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}
	if draft.Finalized() {
		http.Error(w, "Draft is already finalized", http.StatusBadRequest)
		return
	}

	status := model.StatusFinalized
	updated, err := s.ledger.Update(draft.ID, ledger.UpdateFields{Status: &status})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// A finalized draft gets no more automatic syncs.
	if err := s.watches.Unregister(r.Context(), draft.ID); err != nil {
		apiLogger.Warn().Err(err).Str("draft_id", string(draft.ID)).Msg("Failed to stop watch on finalize")
	}

	apiLogger.Info().Str("draft_id", string(draft.ID)).Msg("Draft finalized")
	s.writeJSON(w, http.StatusOK, s.draftResponse(updated))
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}

	// The backup blob is left in place; removing it is a separate, explicit
	// call.
	if err := s.ledger.Delete(draft.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.watches.Unregister(r.Context(), draft.ID); err != nil {
		apiLogger.Warn().Err(err).Str("draft_id", string(draft.ID)).Msg("Failed to stop watch on delete")
	}

	apiLogger.Info().Str("draft_id", string(draft.ID)).Msg("Draft deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}
	if draft.BackupPath == "" {
		http.Error(w, "Draft has no backup", http.StatusNotFound)
		return
	}

	if err := s.store.Delete(r.Context(), draft.BackupPath); err != nil {
		s.writeError(w, r, err)
		return
	}
	apiLogger.Info().
		Str("draft_id", string(draft.ID)).
		Str("backup_path", draft.BackupPath).
		Msg("Backup blob deleted")
	w.WriteHeader(http.StatusNoContent)
}

type backupURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleBackupURL(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.requireOwnedDraft(w, r)
	if !ok {
		return
	}
	if draft.BackupPath == "" {
		http.Error(w, "Draft has no backup", http.StatusNotFound)
		return
	}

	url, err := s.store.SignedReadURL(r.Context(), draft.BackupPath, s.signedURLTTL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, backupURLResponse{
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(s.signedURLTTL),
	})
}

// handleProviderNotification receives push notifications. The provider only
// needs the ack; all processing happens after the 200 is on the wire so a
// slow sync can never back up the notification channel.
func (s *Server) handleProviderNotification(w http.ResponseWriter, r *http.Request) {
	state := r.Header.Get(config.HResourceState)
	channelID := r.Header.Get(config.HChannelID)

	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if state != "update" {
		// "sync" is the registration handshake; nothing changed.
		return
	}

	draftID, ok := watch.ParseChannelID(channelID)
	if !ok {
		apiLogger.Warn().Str("channel_id", channelID).Msg("Notification with unparseable channel id")
		return
	}
	if _, registered := s.watches.Registered(draftID); !registered {
		apiLogger.Debug().Str("draft_id", string(draftID)).Msg("Notification for unknown channel, ignoring")
		return
	}

	apiLogger.Debug().
		Str("draft_id", string(draftID)).
		Str("resource_id", r.Header.Get(config.HResourceID)).
		Str("channel_expiration", r.Header.Get(config.HChannelExpiration)).
		Msg("Change notification received")
	s.debouncer.Notify(draftID)
}

// requireOwnedDraft resolves the {id} path segment to a draft owned by the
// requester. Drafts owned by someone else read as missing.
func (s *Server) requireOwnedDraft(w http.ResponseWriter, r *http.Request) (*model.Draft, bool) {
	identity, err := s.auth.IdentityFromSession(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	draftID := model.DraftID(r.PathValue("id"))
	draft, err := s.ledger.Get(draftID)
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	if draft.Owner != identity.ID {
		http.Error(w, "Draft not found", http.StatusNotFound)
		return nil, false
	}
	return draft, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		apiLogger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "Internal server error"

	switch {
	case errors.Is(err, model.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, model.ErrPermissionDenied):
		status, msg = http.StatusForbidden, "Permission denied by provider"
	case errors.Is(err, model.ErrTrashed):
		status, msg = http.StatusConflict, "Live document is trashed"
	case errors.Is(err, model.ErrUnrecoverableLoss):
		status, msg = http.StatusGone, "Draft content is unrecoverable"
	case errors.Is(err, model.ErrRecoveryVerificationFailed):
		status, msg = http.StatusBadGateway, "Recovered document failed verification"
	case errors.Is(err, model.ErrQuotaExceeded):
		status, msg = http.StatusTooManyRequests, "Provider quota exceeded"
	case errors.Is(err, model.ErrFinalized):
		status, msg = http.StatusBadRequest, "Draft is finalized"
	case errors.Is(err, context.DeadlineExceeded):
		status, msg = http.StatusGatewayTimeout, "Provider call timed out"
	}

	if status >= http.StatusInternalServerError {
		apiLogger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		apiLogger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	http.Error(w, msg, status)
}
