// Package memory implements a persistence adapter that keeps the serialized
// snapshot in process memory. Useful for tests and ephemeral deployments
// where durability across restarts is not required.
package memory

import (
	"sync"

	"crmcore/pkg/domain"
)

// StateSource exports and imports the full tenant state. Satisfied by the
// core service.
type StateSource interface {
	ExportState() domain.Snapshot
	ImportState(domain.Snapshot)
}

// Store holds the latest saved snapshot in memory.
type Store struct {
	src   StateSource
	mu    sync.Mutex
	saved *domain.Snapshot
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore builds an in-memory persistence adapter over the given source.
func NewStore(src StateSource) *Store {
	return &Store{src: src}
}

// Load restores the last saved snapshot into the source, reporting whether
// one existed.
func (s *Store) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		return false, nil
	}
	s.src.ImportState(*s.saved)
	return true, nil
}

// Save captures the source's current state.
func (s *Store) Save() error {
	snap := s.src.ExportState()
	s.mu.Lock()
	s.saved = &snap
	s.mu.Unlock()
	return nil
}

// Clear discards the saved snapshot.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.saved = nil
	s.mu.Unlock()
	return nil
}

// Saved reports whether a snapshot is currently held.
func (s *Store) Saved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved != nil
}
