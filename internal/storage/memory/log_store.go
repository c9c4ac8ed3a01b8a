package memory

import (
	"context"
	"fmt"
	"sync"
)

// LogStore keeps execution logs in-memory and returns pseudo URIs.
type LogStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewLogStore creates a new in-memory log store.
func NewLogStore() *LogStore {
	return &LogStore{
		data: make(map[string][]byte),
	}
}

// Put persists the log content and returns a memory:// URI.
func (s *LogStore) Put(_ context.Context, path string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns a stored log. Test helper.
func (s *LogStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	return data, ok
}
