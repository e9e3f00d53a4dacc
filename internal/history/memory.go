package history

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and when no
// DynamoDB table is configured (single-process development mode).
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]Record)}
}

// Load returns a copy of the user's history, or an empty list.
func (s *MemoryStore) Load(ctx context.Context, uid string) ([]Record, error) {
	if uid == "" {
		return nil, fmt.Errorf("load history: no user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]Record, len(s.docs[uid]))
	copy(records, s.docs[uid])
	return records, nil
}

// Sync replaces the user's history with a copy of the given list.
func (s *MemoryStore) Sync(ctx context.Context, uid string, records []Record) error {
	if uid == "" {
		return fmt.Errorf("sync history: no user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]Record, len(records))
	copy(stored, records)
	s.docs[uid] = stored
	return nil
}
