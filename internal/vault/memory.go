package vault

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"imessage-undeleter/internal/tracker"
)

// MemoryVault keeps objects in memory. It is safe for concurrent use.
type MemoryVault struct {
	name    string
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:    name,
		objects: make(map[string][]byte),
	}
}

// Put stores the object, replacing any previous one under key.
func (m *MemoryVault) Put(key string, r io.Reader, size int64) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// Get writes the object stored under key to w.
func (m *MemoryVault) Get(key string, w io.Writer) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// List returns the keys that start with prefix, sorted.
func (m *MemoryVault) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup always succeeds for the in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ tracker.Vault = (*MemoryVault)(nil)
