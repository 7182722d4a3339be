package archivestore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/iangow/db2pq/internal/core"
)

// MemoryStore keeps archived snapshots in memory. Useful for tests.
// Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, srcPath, key string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", srcPath, err)
	}
	s.mu.Lock()
	s.entries[key] = data
	s.mu.Unlock()
	return os.Remove(srcPath)
}

func (s *MemoryStore) Fetch(ctx context.Context, key, destPath string) error {
	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("archive entry not found: %s", key)
	}
	return os.WriteFile(destPath, data, 0644)
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ core.ArchiveStore = (*MemoryStore)(nil)
