package tools

import (
	"context"
	"sort"
	"sync"
)

// DefinitionStore persists tool definitions. The registry reads it wholesale
// on Load and writes individual entries on mutation.
type DefinitionStore interface {
	LoadAll(ctx context.Context) ([]Definition, error)
	Get(ctx context.Context, name string) (Definition, error)
	Put(ctx context.Context, def Definition) error
	// Delete removes a definition. Deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
}

// MemoryStore is an in-process DefinitionStore.
type MemoryStore struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewMemoryStore creates a store seeded with defs.
func NewMemoryStore(defs ...Definition) *MemoryStore {
	s := &MemoryStore{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		s.defs[def.Name] = def
	}
	return s
}

func (s *MemoryStore) LoadAll(ctx context.Context) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[name]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

func (s *MemoryStore) Put(ctx context.Context, def Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.Name] = def
	return nil
}

// PutAll replaces several definitions under one lock.
func (s *MemoryStore) PutAll(ctx context.Context, defs ...Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range defs {
		s.defs[def.Name] = def
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, name)
	return nil
}
