package recovery

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/backup"
	"github.com/draftkeeper/draftkeeper/internal/db"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/draftkeeper/draftkeeper/internal/syncer"
	"github.com/draftkeeper/draftkeeper/internal/watch"
)

type testFixture struct {
	ledger   ledger.Ledger
	store    *backup.MemoryStore
	provider *provider.MemoryProvider
	watches  *watch.Manager
	orch     *Orchestrator
}

func setupOrchestrator(t *testing.T) *testFixture {
	t.Helper()

	database := db.NewSQLite(":memory:")
	if err := database.InitDB(); err != nil {
		t.Fatalf("Failed to setup test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	f := &testFixture{
		ledger:   ledger.NewSQLLedger(database),
		store:    backup.NewMemoryStore(),
		provider: provider.NewMemoryProvider(),
	}
	f.watches = watch.NewManager(f.provider, f.ledger, "https://svc.invalid/notifications/provider",
		time.Hour, 10*time.Minute, time.Minute, 5*time.Second)
	f.orch = NewOrchestrator(f.ledger, f.store, f.provider, f.watches, 5*time.Second)
	return f
}

func (f *testFixture) seedDraft(t *testing.T, content []byte) *model.Draft {
	t.Helper()

	draft := ledger.NewDraft("user-1", "Test draft")
	draft.LiveRef = "doc-1"
	f.provider.Seed("doc-1", draft.Title, content)
	if _, err := f.ledger.Create(draft); err != nil {
		t.Fatalf("Failed to seed draft: %v", err)
	}
	if content != nil {
		if err := f.store.Put(context.Background(), "backups/user-1/blob.bin", content, "application/octet-stream"); err != nil {
			t.Fatalf("Failed to seed blob: %v", err)
		}
		if _, err := f.ledger.ClaimBackupPath(draft.ID, "backups/user-1/blob.bin"); err != nil {
			t.Fatalf("Failed to claim path: %v", err)
		}
	}
	return draft
}

func TestEnsureLiveHealthyIsIdempotent(t *testing.T) {
	f := setupOrchestrator(t)
	draft := f.seedDraft(t, []byte("content"))

	for i := 0; i < 3; i++ {
		res, err := f.orch.EnsureLive(context.Background(), draft.ID)
		if err != nil {
			t.Fatalf("EnsureLive failed: %v", err)
		}
		if res.Recreated {
			t.Error("Healthy draft must not be recreated")
		}
		if res.LiveRef != "doc-1" {
			t.Errorf("Expected doc-1, got %s", res.LiveRef)
		}
	}
	if got := f.provider.CreateCalls(); got != 0 {
		t.Errorf("Expected no document creation, got %d", got)
	}
}

func TestEnsureLiveRecreatesLostDocument(t *testing.T) {
	content := []byte("the draft body")

	for _, loss := range []string{"removed", "trashed"} {
		t.Run(loss, func(t *testing.T) {
			f := setupOrchestrator(t)
			draft := f.seedDraft(t, content)

			if loss == "removed" {
				f.provider.Remove("doc-1")
			} else {
				f.provider.Trash("doc-1")
			}

			res, err := f.orch.EnsureLive(context.Background(), draft.ID)
			if err != nil {
				t.Fatalf("EnsureLive failed: %v", err)
			}
			if !res.Recreated {
				t.Fatal("Expected recreation")
			}
			if res.LiveRef == "doc-1" {
				t.Fatal("Recreated document must have a new reference")
			}

			// The new document carries the backup content.
			got, err := f.provider.Export(context.Background(), res.LiveRef, model.FormatDocx)
			if err != nil {
				t.Fatalf("Export of recreated document failed: %v", err)
			}
			if !bytes.Equal(got, content) {
				t.Errorf("Recreated content = %q, want %q", got, content)
			}

			// The ledger points at the new document.
			stored, err := f.ledger.Get(draft.ID)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if stored.LiveRef != res.LiveRef {
				t.Errorf("Ledger liveRef %s != returned %s", stored.LiveRef, res.LiveRef)
			}
			if stored.BackupPath != "backups/user-1/blob.bin" {
				t.Errorf("Backup path must not move, got %s", stored.BackupPath)
			}

			// A watch is registered for the new document.
			if _, ok := f.watches.Registered(draft.ID); !ok {
				t.Error("Expected a watch registration after recovery")
			}
		})
	}
}

func TestEnsureLiveNoBackupIsUnrecoverable(t *testing.T) {
	f := setupOrchestrator(t)
	draft := f.seedDraft(t, nil)
	f.provider.Remove("doc-1")

	_, err := f.orch.EnsureLive(context.Background(), draft.ID)
	if !errors.Is(err, model.ErrUnrecoverableLoss) {
		t.Errorf("Expected ErrUnrecoverableLoss, got %v", err)
	}
}

func TestEnsureLiveMissingBlobIsUnrecoverable(t *testing.T) {
	f := setupOrchestrator(t)
	draft := f.seedDraft(t, []byte("content"))
	f.provider.Remove("doc-1")
	if err := f.store.Delete(context.Background(), "backups/user-1/blob.bin"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := f.orch.EnsureLive(context.Background(), draft.ID)
	if !errors.Is(err, model.ErrUnrecoverableLoss) {
		t.Errorf("Expected ErrUnrecoverableLoss, got %v", err)
	}
}

func TestEnsureLiveFinalizedNotRecreated(t *testing.T) {
	f := setupOrchestrator(t)
	draft := f.seedDraft(t, []byte("content"))

	status := model.StatusFinalized
	if _, err := f.ledger.Update(draft.ID, ledger.UpdateFields{Status: &status}); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	t.Run("healthy finalized draft still opens", func(t *testing.T) {
		res, err := f.orch.EnsureLive(context.Background(), draft.ID)
		if err != nil {
			t.Fatalf("EnsureLive failed: %v", err)
		}
		if res.Recreated {
			t.Error("Finalized draft must not be touched")
		}
	})

	t.Run("lost finalized draft is not recreated", func(t *testing.T) {
		f.provider.Remove("doc-1")
		_, err := f.orch.EnsureLive(context.Background(), draft.ID)
		if !errors.Is(err, model.ErrFinalized) {
			t.Errorf("Expected ErrFinalized, got %v", err)
		}
		if got := f.provider.CreateCalls(); got != 0 {
			t.Errorf("Finalized draft was recreated, %d creates", got)
		}
	})
}

func TestEnsureLiveMissingDraft(t *testing.T) {
	f := setupOrchestrator(t)

	_, err := f.orch.EnsureLive(context.Background(), "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEnsureLiveConcurrentOpensSingleRecreation(t *testing.T) {
	f := setupOrchestrator(t)
	draft := f.seedDraft(t, []byte("content"))
	f.provider.Remove("doc-1")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*OpenResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.orch.EnsureLive(context.Background(), draft.ID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if results[i].LiveRef != results[0].LiveRef {
			t.Errorf("Caller %d got a different reference: %s", i, results[i].LiveRef)
		}
	}
	if got := f.provider.CreateCalls(); got != 1 {
		t.Errorf("Expected a single recreation, got %d", got)
	}
}

func TestEnsureLiveAfterSyncRoundTrip(t *testing.T) {
	f := setupOrchestrator(t)

	draft := ledger.NewDraft("user-1", "Round trip")
	draft.LiveRef = "doc-1"
	content := []byte("original body")
	f.provider.Seed("doc-1", draft.Title, content)
	if _, err := f.ledger.Create(draft); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	executor := syncer.NewExecutor(f.ledger, f.store, f.provider, "backups", 5*time.Second)
	if _, err := executor.Sync(context.Background(), draft.ID, model.FormatDocx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	f.provider.Remove("doc-1")

	res, err := f.orch.EnsureLive(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("EnsureLive failed: %v", err)
	}
	got, err := f.provider.Export(context.Background(), res.LiveRef, model.FormatDocx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Round trip lost content: %q", got)
	}
}

func TestDetectFormat(t *testing.T) {
	if got := detectFormat([]byte("%PDF-1.7 blah")); got != model.FormatPDF {
		t.Errorf("Expected pdf, got %s", got)
	}
	if got := detectFormat([]byte("PK\x03\x04docx bytes")); got != model.FormatDocx {
		t.Errorf("Expected docx, got %s", got)
	}
}
