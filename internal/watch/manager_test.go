package watch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/db"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
)

func TestChannelIDRoundTrip(t *testing.T) {
	draftID := model.DraftID("8a9b0c1d-2e3f-4a5b-6c7d-8e9f0a1b2c3d")

	channelID := NewChannelID(draftID)
	if !strings.HasPrefix(channelID, "watch-") {
		t.Fatalf("Unexpected channel id format: %s", channelID)
	}

	got, ok := ParseChannelID(channelID)
	if !ok {
		t.Fatalf("ParseChannelID rejected %s", channelID)
	}
	if got != draftID {
		t.Errorf("Parsed %s, want %s", got, draftID)
	}

	// Two registrations for the same draft must not collide.
	if other := NewChannelID(draftID); other == channelID {
		t.Error("Channel ids must be unique per registration")
	}
}

func TestParseChannelIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "watch-", "watch-noseparator", "other-abc-def", "watch--abc"} {
		if id, ok := ParseChannelID(bad); ok {
			t.Errorf("ParseChannelID(%q) accepted as %q", bad, id)
		}
	}
}

func setupManager(t *testing.T, ttl time.Duration) (*Manager, *provider.MemoryProvider, ledger.Ledger) {
	t.Helper()

	database := db.NewSQLite(":memory:")
	if err := database.InitDB(); err != nil {
		t.Fatalf("Failed to setup test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	l := ledger.NewSQLLedger(database)
	p := provider.NewMemoryProvider()
	m := NewManager(p, l, "https://svc.invalid/notifications/provider", ttl, 10*time.Minute, time.Minute, 5*time.Second)
	return m, p, l
}

func seedDraft(t *testing.T, l ledger.Ledger, p *provider.MemoryProvider) *model.Draft {
	t.Helper()

	draft := ledger.NewDraft("user-1", "Watched draft")
	draft.LiveRef = "doc-1"
	p.Seed("doc-1", draft.Title, []byte("x"))
	if _, err := l.Create(draft); err != nil {
		t.Fatalf("Failed to seed draft: %v", err)
	}
	return draft
}

func TestRegisterAndUnregister(t *testing.T) {
	m, p, l := setupManager(t, time.Hour)
	draft := seedDraft(t, l, p)

	reg, err := m.Register(context.Background(), draft.ID, draft.LiveRef)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if got, ok := ParseChannelID(reg.Channel.ChannelID); !ok || got != draft.ID {
		t.Errorf("Channel id %s does not encode the draft id", reg.Channel.ChannelID)
	}

	if _, ok := m.Registered(draft.ID); !ok {
		t.Fatal("Registration not recorded")
	}

	if err := m.Unregister(context.Background(), draft.ID); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, ok := m.Registered(draft.ID); ok {
		t.Error("Registration survived Unregister")
	}

	// Unregister of an unknown draft is a no-op.
	if err := m.Unregister(context.Background(), "nope"); err != nil {
		t.Errorf("Unregister of unknown draft failed: %v", err)
	}
}

func TestRegisterSupersedesOldChannel(t *testing.T) {
	m, p, l := setupManager(t, time.Hour)
	draft := seedDraft(t, l, p)

	first, err := m.Register(context.Background(), draft.ID, draft.LiveRef)
	if err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	second, err := m.Register(context.Background(), draft.ID, draft.LiveRef)
	if err != nil {
		t.Fatalf("Second register failed: %v", err)
	}
	if first.Channel.ChannelID == second.Channel.ChannelID {
		t.Error("Expected a fresh channel on re-register")
	}

	reg, ok := m.Registered(draft.ID)
	if !ok || reg.Channel.ChannelID != second.Channel.ChannelID {
		t.Error("Current registration should be the second channel")
	}
}

func TestRegisterFailure(t *testing.T) {
	m, p, l := setupManager(t, time.Hour)
	draft := seedDraft(t, l, p)
	p.WatchErr = errors.New("channel quota reached")

	if _, err := m.Register(context.Background(), draft.ID, draft.LiveRef); err == nil {
		t.Fatal("Expected register to fail")
	}
	if _, ok := m.Registered(draft.ID); ok {
		t.Error("Failed registration must not be recorded")
	}
}

func TestRenewExpiring(t *testing.T) {
	// TTL shorter than the renew lead, so the channel is immediately due.
	m, p, l := setupManager(t, time.Minute)
	draft := seedDraft(t, l, p)

	first, err := m.Register(context.Background(), draft.ID, draft.LiveRef)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.renewExpiring(context.Background())

	reg, ok := m.Registered(draft.ID)
	if !ok {
		t.Fatal("Registration dropped on renewal")
	}
	if reg.Channel.ChannelID == first.Channel.ChannelID {
		t.Error("Expected a fresh channel after renewal")
	}
}

func TestRenewDropsFinalizedDrafts(t *testing.T) {
	m, p, l := setupManager(t, time.Minute)
	draft := seedDraft(t, l, p)

	if _, err := m.Register(context.Background(), draft.ID, draft.LiveRef); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	status := model.StatusFinalized
	if _, err := l.Update(draft.ID, ledger.UpdateFields{Status: &status}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	m.renewExpiring(context.Background())

	if _, ok := m.Registered(draft.ID); ok {
		t.Error("Finalized draft kept its watch")
	}
}

func TestRenewDropsDeletedDrafts(t *testing.T) {
	m, p, l := setupManager(t, time.Minute)
	draft := seedDraft(t, l, p)

	if _, err := m.Register(context.Background(), draft.ID, draft.LiveRef); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := l.Delete(draft.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	m.renewExpiring(context.Background())

	if _, ok := m.Registered(draft.ID); ok {
		t.Error("Deleted draft kept its watch")
	}
}
