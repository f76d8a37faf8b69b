package domain

import (
	"strings"
	"time"
)

// SnapshotVersion is the current snapshot schema version (major.minor).
const SnapshotVersion = "1.0"

// SnapshotMetadata describes a serialized snapshot.
type SnapshotMetadata struct {
	Version      string    `json:"version"`
	LastSaved    time.Time `json:"last_saved"`
	TotalRecords int       `json:"total_records"`
}

// Snapshot is the full serializable state of one tenant's CRM core: every
// record map, the uniqueness constraints, and the audit trail. Time fields
// round-trip as RFC 3339 strings through encoding/json and rehydrate as
// time.Time values on load.
type Snapshot struct {
	Organisations map[string]Organisation `json:"organisations"`
	Contacts      map[string]Contact      `json:"contacts"`
	Deals         map[string]Deal         `json:"deals"`
	Leads         map[string]Lead         `json:"leads"`
	Tasks         map[string]Task         `json:"tasks"`
	Pipelines     map[string]Pipeline     `json:"pipelines"`
	Constraints   []UniquenessConstraint  `json:"uniqueness_constraints"`
	History       []HistoryEntry          `json:"history_entries"`
	Metadata      SnapshotMetadata        `json:"metadata"`
}

// NewSnapshot returns an empty snapshot with every map allocated and current
// metadata.
func NewSnapshot() Snapshot {
	return MigrateSnapshot(Snapshot{})
}

// TotalRecords counts the entity records across every kind.
func (s Snapshot) TotalRecords() int {
	return len(s.Organisations) + len(s.Contacts) + len(s.Deals) +
		len(s.Leads) + len(s.Tasks) + len(s.Pipelines)
}

// MigrateSnapshot backfills missing maps, slices and metadata on a snapshot
// loaded from an older or partial serialization. Records present in the input
// are never discarded; a major-version mismatch only triggers the backfill
// and a version bump.
func MigrateSnapshot(s Snapshot) Snapshot {
	if s.Organisations == nil {
		s.Organisations = make(map[string]Organisation)
	}
	if s.Contacts == nil {
		s.Contacts = make(map[string]Contact)
	}
	if s.Deals == nil {
		s.Deals = make(map[string]Deal)
	}
	if s.Leads == nil {
		s.Leads = make(map[string]Lead)
	}
	if s.Tasks == nil {
		s.Tasks = make(map[string]Task)
	}
	if s.Pipelines == nil {
		s.Pipelines = make(map[string]Pipeline)
	}
	if s.Constraints == nil {
		s.Constraints = []UniquenessConstraint{}
	}
	if s.History == nil {
		s.History = []HistoryEntry{}
	}
	if major(s.Metadata.Version) != major(SnapshotVersion) {
		s.Metadata.Version = SnapshotVersion
	}
	if s.Metadata.LastSaved.IsZero() {
		s.Metadata.LastSaved = time.Now().UTC()
	}
	s.Metadata.TotalRecords = s.TotalRecords()
	return s
}

func major(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// PersistentStore is the external persistence adapter contract. The core
// holds state in memory; adapters serialize the snapshot to a durable medium
// after successful mutations and rehydrate it on startup.
type PersistentStore interface {
	// Load rehydrates previously saved state, reporting whether any existed.
	Load() (bool, error)
	// Save serializes the current state.
	Save() error
	// Clear discards any persisted state.
	Clear() error
}
