// Package core implements the generic entity-repository framework: keyed
// in-memory stores, role-based access control, the tenant-wide uniqueness
// index, the checksum-protected audit log, and the repository facade that
// composes them per entity kind.
package core

import (
	"sort"

	"crmcore/pkg/domain"
)

// recordPtr constrains an entity type to its pointer form, which carries the
// shared metadata accessors and a deep-copy method.
type recordPtr[T any] interface {
	*T
	domain.Record
	Clone() T
}

// Store is a keyed in-memory holder of one entity kind's records. It is not
// internally synchronized; the owning repository's lock covers every access.
// All reads return clones so callers can never alias stored state.
type Store[T any, P recordPtr[T]] struct {
	records map[string]T
}

// NewStore constructs an empty store.
func NewStore[T any, P recordPtr[T]]() *Store[T, P] {
	return &Store[T, P]{records: make(map[string]T)}
}

// Get retrieves a record clone by id.
func (s *Store[T, P]) Get(id string) (T, bool) {
	v, ok := s.records[id]
	if !ok {
		var zero T
		return zero, false
	}
	return P(&v).Clone(), true
}

// Put inserts or replaces a record, storing a clone.
func (s *Store[T, P]) Put(v T) {
	cp := P(&v).Clone()
	s.records[P(&cp).Meta().ID] = cp
}

// Delete removes a record by id, reporting whether it existed.
func (s *Store[T, P]) Delete(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// All returns clones of every record, ordered by creation time then id for
// stable output.
func (s *Store[T, P]) All() []T {
	out := make([]T, 0, len(s.records))
	for _, v := range s.records {
		out = append(out, P(&v).Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := P(&out[i]).Meta(), P(&out[j]).Meta()
		if !mi.CreatedAt.Equal(mj.CreatedAt) {
			return mi.CreatedAt.Before(mj.CreatedAt)
		}
		return mi.ID < mj.ID
	})
	return out
}

// Len returns the number of stored records.
func (s *Store[T, P]) Len() int { return len(s.records) }

// Export clones the full record map for snapshot serialization.
func (s *Store[T, P]) Export() map[string]T {
	out := make(map[string]T, len(s.records))
	for k, v := range s.records {
		out[k] = P(&v).Clone()
	}
	return out
}

// Import replaces the store contents with clones of the given map.
func (s *Store[T, P]) Import(records map[string]T) {
	s.records = make(map[string]T, len(records))
	for k, v := range records {
		s.records[k] = P(&v).Clone()
	}
}
