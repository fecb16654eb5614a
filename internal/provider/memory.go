package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/google/uuid"
)

type memoryDoc struct {
	title   string
	content []byte
	trashed bool
}

// MemoryProvider is an in-memory Provider used in tests. Documents are plain
// byte payloads; Export returns them verbatim regardless of format so
// export/import round-trips compare equal.
type MemoryProvider struct {
	mu   sync.Mutex
	docs map[string]*memoryDoc

	grants   map[string][]string
	channels map[string]string // channelID -> liveRef

	exportCalls int
	createCalls int

	// ExportErr, when set, is returned by every Export call.
	ExportErr error
	// ExportDelay stalls Export to exercise single-flight joins.
	ExportDelay time.Duration
	// WatchErr, when set, fails Watch registrations.
	WatchErr error
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		docs:     make(map[string]*memoryDoc),
		grants:   make(map[string][]string),
		channels: make(map[string]string),
	}
}

// Seed inserts a document with a known reference and content.
func (m *MemoryProvider) Seed(liveRef, title string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[liveRef] = &memoryDoc{title: title, content: content}
}

// Trash soft-deletes a document.
func (m *MemoryProvider) Trash(liveRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[liveRef]; ok {
		doc.trashed = true
	}
}

// Remove hard-deletes a document.
func (m *MemoryProvider) Remove(liveRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, liveRef)
}

// SetContent overwrites a document's content, simulating a user edit.
func (m *MemoryProvider) SetContent(liveRef string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[liveRef]; ok {
		doc.content = content
	}
}

func (m *MemoryProvider) ExportCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exportCalls
}

func (m *MemoryProvider) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

func (m *MemoryProvider) Grants(liveRef string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.grants[liveRef]...)
}

func (m *MemoryProvider) CreateFromTemplate(ctx context.Context, templateRef, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, ok := m.docs[templateRef]
	if !ok {
		return "", fmt.Errorf("template %s: %w", templateRef, model.ErrNotFound)
	}
	if tpl.trashed {
		return "", fmt.Errorf("template %s: %w", templateRef, model.ErrTrashed)
	}
	return m.createLocked(title, append([]byte(nil), tpl.content...)), nil
}

func (m *MemoryProvider) CreateBlank(ctx context.Context, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(title, []byte{}), nil
}

func (m *MemoryProvider) CreateFromBytes(ctx context.Context, data []byte, sourceFormat model.ExportFormat, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(title, append([]byte(nil), data...)), nil
}

func (m *MemoryProvider) createLocked(title string, content []byte) string {
	ref := "doc-" + uuid.New().String()
	m.docs[ref] = &memoryDoc{title: title, content: content}
	m.createCalls++
	return ref
}

func (m *MemoryProvider) Export(ctx context.Context, liveRef string, format model.ExportFormat) ([]byte, error) {
	m.mu.Lock()
	m.exportCalls++
	delay := m.ExportDelay
	injected := m.ExportErr
	doc, ok := m.docs[liveRef]
	var content []byte
	var trashed bool
	if ok {
		content = append([]byte(nil), doc.content...)
		trashed = doc.trashed
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if injected != nil {
		return nil, injected
	}
	if !ok {
		return nil, fmt.Errorf("document %s: %w", liveRef, model.ErrNotFound)
	}
	if trashed {
		return nil, fmt.Errorf("document %s: %w", liveRef, model.ErrTrashed)
	}
	return content, nil
}

func (m *MemoryProvider) StateOf(ctx context.Context, liveRef string) (DocState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[liveRef]
	if !ok {
		return DocState{Exists: false}, nil
	}
	return DocState{Exists: true, Trashed: doc.trashed}, nil
}

func (m *MemoryProvider) GrantAccess(ctx context.Context, liveRef, principal, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[liveRef]; !ok {
		return fmt.Errorf("document %s: %w", liveRef, model.ErrNotFound)
	}
	m.grants[liveRef] = append(m.grants[liveRef], principal+":"+role)
	return nil
}

func (m *MemoryProvider) Watch(ctx context.Context, liveRef, channelID, callbackURL string, ttl time.Duration) (*WatchChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}
	if _, ok := m.docs[liveRef]; !ok {
		return nil, fmt.Errorf("document %s: %w", liveRef, model.ErrNotFound)
	}
	m.channels[channelID] = liveRef
	return &WatchChannel{
		ChannelID:  channelID,
		ResourceID: "res-" + uuid.New().String(),
		ExpiresAt:  time.Now().Add(ttl),
	}, nil
}

func (m *MemoryProvider) StopWatch(ctx context.Context, channelID, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	return nil
}

func (m *MemoryProvider) EditURL(liveRef string) string {
	return "https://editor.invalid/d/" + liveRef + "/edit"
}
