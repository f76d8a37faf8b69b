// Package sqlite persists the tenant snapshot to an embedded SQLite file as
// JSON blobs, one bucket per state section.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"crmcore/pkg/domain"
)

// StateSource exports and imports the full tenant state. Satisfied by the
// core service.
type StateSource interface {
	ExportState() domain.Snapshot
	ImportState(domain.Snapshot)
}

// Store snapshots the full state into a single `state` table after every
// successful mutation.
type Store struct {
	src  StateSource
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore opens (or creates) the database file and prepares the state table.
func NewStore(path string, src StateSource) (*Store, error) {
	if path == "" {
		path = "crmcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{src: src, db: db, path: path}, nil
}

const (
	bucketOrganisations = "organisations"
	bucketContacts      = "contacts"
	bucketDeals         = "deals"
	bucketLeads         = "leads"
	bucketTasks         = "tasks"
	bucketPipelines     = "pipelines"
	bucketConstraints   = "uniqueness_constraints"
	bucketHistory       = "history_entries"
	bucketMetadata      = "metadata"
)

var buckets = []string{
	bucketOrganisations,
	bucketContacts,
	bucketDeals,
	bucketLeads,
	bucketTasks,
	bucketPipelines,
	bucketConstraints,
	bucketHistory,
	bucketMetadata,
}

func bucketTargets(snap *domain.Snapshot) map[string]any {
	return map[string]any{
		bucketOrganisations: &snap.Organisations,
		bucketContacts:      &snap.Contacts,
		bucketDeals:         &snap.Deals,
		bucketLeads:         &snap.Leads,
		bucketTasks:         &snap.Tasks,
		bucketPipelines:     &snap.Pipelines,
		bucketConstraints:   &snap.Constraints,
		bucketHistory:       &snap.History,
		bucketMetadata:      &snap.Metadata,
	}
}

func bucketValues(snap domain.Snapshot) map[string]any {
	return map[string]any{
		bucketOrganisations: snap.Organisations,
		bucketContacts:      snap.Contacts,
		bucketDeals:         snap.Deals,
		bucketLeads:         snap.Leads,
		bucketTasks:         snap.Tasks,
		bucketPipelines:     snap.Pipelines,
		bucketConstraints:   snap.Constraints,
		bucketHistory:       snap.History,
		bucketMetadata:      snap.Metadata,
	}
}

// Load rehydrates the source from the state table, reporting whether any
// saved state existed.
func (s *Store) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap domain.Snapshot
	targets := bucketTargets(&snap)
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return false, fmt.Errorf("scan state: %w", err)
		}
		found = true
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return false, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate state: %w", err)
	}
	if !found {
		return false, nil
	}
	s.src.ImportState(snap)
	return true, nil
}

// Save upserts every bucket inside a single transaction.
func (s *Store) Save() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.src.ExportState()
	values := bucketValues(snap)
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		data, err := json.Marshal(values[bucket])
		if err != nil {
			retErr = fmt.Errorf("encode %s: %w", bucket, err)
			return retErr
		}
		if _, err := tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Clear drops all saved state.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
