// Package watch manages provider-side change-notification subscriptions.
// Subscriptions have a bounded lifetime and cannot be extended: renewal means
// registering a fresh channel. A lapsed registration only degrades to missed
// automatic syncs — manual sync stays available.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/cache"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var watchLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	watchLogger = l
}

const channelPrefix = "watch-"

// NewChannelID builds a channel id of the form watch-{draftId}-{opaque}.
// The opaque token contains no hyphens, so the draft id (which does) can be
// recovered by splitting on the last hyphen.
func NewChannelID(draftID model.DraftID) string {
	opaque := strings.ReplaceAll(uuid.New().String(), "-", "")
	return channelPrefix + string(draftID) + "-" + opaque
}

// ParseChannelID recovers the draft id from a channel id.
func ParseChannelID(channelID string) (model.DraftID, bool) {
	rest, ok := strings.CutPrefix(channelID, channelPrefix)
	if !ok {
		return "", false
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 || idx == len(rest)-1 {
		return "", false
	}
	return model.DraftID(rest[:idx]), true
}

// Registration is a live subscription for one draft.
type Registration struct {
	DraftID model.DraftID
	LiveRef string
	Channel provider.WatchChannel
}

// Manager registers and renews watch channels. Registrations live in memory
// only; after a restart the next open or create re-registers.
type Manager struct {
	provider provider.Provider
	ledger   ledger.Ledger

	callbackURL string
	ttl         time.Duration
	renewLead   time.Duration
	renewCheck  time.Duration
	callTimeout time.Duration

	regs *cache.Cache[model.DraftID, Registration]
}

func NewManager(p provider.Provider, l ledger.Ledger, callbackURL string, ttl, renewLead, renewCheck, callTimeout time.Duration) *Manager {
	return &Manager{
		provider:    p,
		ledger:      l,
		callbackURL: callbackURL,
		ttl:         ttl,
		renewLead:   renewLead,
		renewCheck:  renewCheck,
		callTimeout: callTimeout,
		regs:        cache.NewCache[model.DraftID, Registration](),
	}
}

// Register subscribes to change notifications for the draft's live document.
// Any previous channel for the draft is stopped best-effort.
func (m *Manager) Register(ctx context.Context, draftID model.DraftID, liveRef string) (*Registration, error) {
	old, hadOld := m.regs.Get(draftID)

	channelID := NewChannelID(draftID)
	ch, err := m.provider.Watch(ctx, liveRef, channelID, m.callbackURL, m.ttl)
	if err != nil {
		return nil, fmt.Errorf("register watch for draft %s: %w", draftID, err)
	}

	reg := Registration{DraftID: draftID, LiveRef: liveRef, Channel: *ch}
	m.regs.Set(draftID, reg)

	if hadOld {
		if err := m.provider.StopWatch(ctx, old.Channel.ChannelID, old.Channel.ResourceID); err != nil {
			watchLogger.Warn().
				Err(err).
				Str("draft_id", string(draftID)).
				Str("channel_id", old.Channel.ChannelID).
				Msg("Failed to stop superseded watch channel")
		}
	}

	watchLogger.Info().
		Str("draft_id", string(draftID)).
		Str("channel_id", ch.ChannelID).
		Time("expires_at", ch.ExpiresAt).
		Msg("Watch registered")
	return &reg, nil
}

// Unregister stops the draft's channel and forgets the registration.
func (m *Manager) Unregister(ctx context.Context, draftID model.DraftID) error {
	reg, ok := m.regs.Get(draftID)
	if !ok {
		return nil
	}
	m.regs.Delete(draftID)
	if err := m.provider.StopWatch(ctx, reg.Channel.ChannelID, reg.Channel.ResourceID); err != nil {
		return fmt.Errorf("stop watch for draft %s: %w", draftID, err)
	}
	return nil
}

// Registered returns the current registration for the draft, if any.
func (m *Manager) Registered(draftID model.DraftID) (Registration, bool) {
	return m.regs.Get(draftID)
}

// RenewLoop re-registers channels approaching expiry until ctx is cancelled.
// A renewal failure is logged and retried on the next pass; it never touches
// the draft itself.
func (m *Manager) RenewLoop(ctx context.Context) {
	ticker := time.NewTicker(m.renewCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewExpiring(ctx)
		}
	}
}

func (m *Manager) renewExpiring(ctx context.Context) {
	for draftID, reg := range m.regs.Snapshot() {
		if time.Until(reg.Channel.ExpiresAt) > m.renewLead {
			continue
		}

		// Re-read the ledger: the live reference may have changed since the
		// channel was registered, and finalized drafts get no watches.
		draft, err := m.ledger.Get(draftID)
		if err != nil {
			watchLogger.Warn().Err(err).Str("draft_id", string(draftID)).Msg("Dropping watch for missing draft")
			m.regs.Delete(draftID)
			continue
		}
		if draft.Finalized() || draft.LiveRef == "" {
			m.regs.Delete(draftID)
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, m.callTimeout)
		_, err = m.Register(tctx, draftID, draft.LiveRef)
		cancel()
		if err != nil {
			watchLogger.Warn().Err(err).Str("draft_id", string(draftID)).Msg("Watch renewal failed")
		}
	}
}
