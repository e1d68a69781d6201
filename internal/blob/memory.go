package blob

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"fsledger/internal/ledger"
)

// MemoryStore is an in-memory implementation of the BlobStore interface,
// useful for tests. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	content map[string][]byte // digest -> payload
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

// Put stores content under the given digest.
// Idempotent: storing the same digest multiple times is safe.
func (m *MemoryStore) Put(digest string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[digest] = data
	return nil
}

// Get streams the content for digest into w.
func (m *MemoryStore) Get(digest string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[digest]
	if !ok {
		return fmt.Errorf("payload %s: %w", digest, ledger.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Delete removes the content for digest. Absent digests are a no-op.
func (m *MemoryStore) Delete(digest string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, digest)
	return nil
}

// Len returns the number of stored payloads. For tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// Compile-time check that MemoryStore implements ledger.BlobStore.
var _ ledger.BlobStore = (*MemoryStore)(nil)
