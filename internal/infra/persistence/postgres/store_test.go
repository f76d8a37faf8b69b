package postgres

import (
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"crmcore/pkg/domain"
)

type fakeSource struct {
	state domain.Snapshot
}

func (f *fakeSource) ExportState() domain.Snapshot  { return f.state }
func (f *fakeSource) ImportState(s domain.Snapshot) { f.state = s }

func TestNewStoreOpenFailure(t *testing.T) {
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("refused")
	})
	defer restore()

	if _, err := NewStore("postgres://example/db", &fakeSource{}); err == nil {
		t.Fatalf("open failure must propagate")
	}
}

// TestIntegrationRoundTrip exercises a real server when a DSN is provided.
func TestIntegrationRoundTrip(t *testing.T) {
	dsn := os.Getenv("CRMCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CRMCORE_TEST_POSTGRES_DSN not set")
	}
	src := &fakeSource{state: domain.NewSnapshot()}
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	src.state.Leads["l1"] = domain.Lead{
		Base:  domain.Base{ID: "l1", TenantID: "t1", CreatedAt: created, UpdatedAt: created},
		Email: "lead@corp.io",
	}
	store, err := NewStore(dsn, src)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	t.Cleanup(func() { _ = store.Clear() })

	if err := store.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	restoredSrc := &fakeSource{}
	restored, err := NewStore(dsn, restoredSrc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = restored.Close() }()
	loaded, err := restored.Load()
	if err != nil || !loaded {
		t.Fatalf("load: loaded=%v err=%v", loaded, err)
	}
	if _, ok := restoredSrc.state.Leads["l1"]; !ok {
		t.Fatalf("lead not restored: %+v", restoredSrc.state.Leads)
	}
}
