// Package postgres persists the tenant snapshot to a PostgreSQL server as
// JSONB payloads, one bucket per state section.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"crmcore/pkg/domain"
)

// StateSource exports and imports the full tenant state. Satisfied by the
// core service.
type StateSource interface {
	ExportState() domain.Snapshot
	ImportState(domain.Snapshot)
}

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/crmcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store snapshots the full state into a single `state` table after every
// successful mutation.
type Store struct {
	src StateSource
	db  *sql.DB
	mu  sync.Mutex
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore connects using the DSN (falling back to a local default) and
// prepares the state table.
func NewStore(dsn string, src StateSource) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Store{src: src, db: db}, nil
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

// Load rehydrates the source from the state table, reporting whether any
// saved state existed.
func (s *Store) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap domain.Snapshot
	targets := map[string]any{
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
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.src.ExportState()
	values := map[string]any{
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
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		data, err := json.Marshal(values[bucket])
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Clear drops all saved state.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
