package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"vitalsync/internal/vital"
)

// MemoryVault is an in-memory implementation of the Vault interface,
// useful for tests and for servers that run without cold storage.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	content map[string][]byte
	mu      sync.RWMutex
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{content: make(map[string][]byte)}
}

// PutContent stores content under key, replacing any previous value.
func (m *MemoryVault) PutContent(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.content[key] = data
	return nil
}

// GetContent retrieves content by key.
func (m *MemoryVault) GetContent(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[key]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}

	return nil
}

func (m *MemoryVault) DeleteContent(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.content, key)
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (m *MemoryVault) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.content {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ vital.Vault = (*MemoryVault)(nil)
