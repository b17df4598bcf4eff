package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/listiago/atendechat/pkg/domain"
)

// Store implements ports.ContextStore in memory.
// Safe for concurrent use.
type Store struct {
	data     map[string]*domain.ExecutionContext
	archived map[string]bool
	mu       sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data:     make(map[string]*domain.ExecutionContext),
		archived: make(map[string]bool),
	}
}

// Save persists a copy of the context.
func (s *Store) Save(ctx context.Context, ec *domain.ExecutionContext) error {
	copied := ec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ec.ID] = copied
	return nil
}

// Load returns a copy so callers can't mutate store state by pointer.
func (s *Store) Load(ctx context.Context, contextID string) (*domain.ExecutionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ec, ok := s.data[contextID]
	if !ok {
		return nil, domain.ErrContextNotFound
	}
	return ec.Clone(), nil
}

// Delete removes the context.
func (s *Store) Delete(ctx context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, contextID)
	delete(s.archived, contextID)
	return nil
}

// List returns live context ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		if !s.archived[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Archive hides the context from List.
func (s *Store) Archive(ctx context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[contextID]; !ok {
		return domain.ErrContextNotFound
	}
	s.archived[contextID] = true
	return nil
}
