package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftkeeper/draftkeeper/internal/model"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob

	puts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (m *MemoryStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[path] = memoryBlob{data: cp, contentType: contentType}
	m.puts++
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[path]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := make([]byte, len(blob.data))
	copy(cp, blob.data)
	return cp, nil
}

func (m *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[path]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

func (m *MemoryStore) SignedReadURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.blobs[path]; !ok {
		return "", model.ErrNotFound
	}
	return fmt.Sprintf("https://blobs.invalid/%s?ttl=%d", path, int(ttl.Seconds())), nil
}

// PutCount returns how many Put calls the store has served.
func (m *MemoryStore) PutCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}
