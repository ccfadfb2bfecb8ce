package responses

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no stored response exists for an id.
var ErrNotFound = errors.New("response not found")

// Store persists oversized tool results keyed by an opaque id.
// Entries are immutable once written.
type Store interface {
	Put(ctx context.Context, id string, payload []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	// Prune removes entries stored before cutoff and reports how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

type memoryEntry struct {
	payload   []byte
	createdAt time.Time
}

// MemoryStore keeps responses in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return nil
	}
	s.entries[id] = memoryEntry{
		payload:   append([]byte(nil), payload...),
		createdAt: s.now(),
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.payload...), nil
}

func (s *MemoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, entry := range s.entries {
		if entry.createdAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// IDs returns the stored ids in sorted order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryStore) Close() error { return nil }
