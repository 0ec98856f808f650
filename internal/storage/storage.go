// Package storage persists entity states across restarts
package storage

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no state was saved for an entity
var ErrNotFound = errors.New("no saved state")

// Store is the persistence primitive the derived sensors restore from
type Store interface {
	// LoadLastState returns the last saved state of entityID
	LoadLastState(entityID string) (string, error)

	// SaveState records value as the current state of entityID
	SaveState(entityID, value string) error

	// Close releases the underlying resources
	Close() error
}

// Record is the persisted form of one state
type Record struct {
	State   string    `json:"state"`
	SavedAt time.Time `json:"saved_at"`
}

// MemoryStore keeps states in memory. Used in tests and when no path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]string)}
}

func (s *MemoryStore) LoadLastState(entityID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.states[entityID]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) SaveState(entityID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[entityID] = value
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
