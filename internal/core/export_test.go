package core

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"crmcore/internal/infra/blob"
	"crmcore/pkg/domain"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestArchiveWritesDocument(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	store := blob.NewMemory()
	arch := NewAuditArchiver(svc, store, quietLogger())

	info, err := arch.Archive(ctx, admin, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(info.Key, "audit/t1/") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("archive key %q", info.Key)
	}
	if info.ContentType != "application/json" {
		t.Fatalf("content type %q", info.ContentType)
	}

	doc, err := arch.Read(ctx, admin, info.Key)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if doc.Version != ArchiveVersion || doc.Tenant != "t1" || doc.ExportedBy != admin.ID {
		t.Fatalf("document header %+v", doc)
	}
	if doc.EntryCount != 1 || len(doc.Entries) != 1 {
		t.Fatalf("document entries %d/%d", doc.EntryCount, len(doc.Entries))
	}
	if doc.Entries[0].Checksum == "" {
		t.Fatalf("archived entries must keep their checksums")
	}
}

func TestArchiveListAndAccess(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	store := blob.NewMemory()
	arch := NewAuditArchiver(svc, store, quietLogger())
	if _, err := arch.Archive(ctx, mgr, domain.HistoryFilter{}); err != nil {
		t.Fatalf("manager archive: %v", err)
	}

	infos, err := arch.List(ctx, admin)
	if err != nil || len(infos) != 1 {
		t.Fatalf("list: %v %d", err, len(infos))
	}

	if _, err := arch.Archive(ctx, rep, domain.HistoryFilter{}); !domain.IsAccessDenied(err) {
		t.Fatalf("rep archive must be denied, got %v", err)
	}
	if _, err := arch.List(ctx, rep); !domain.IsAccessDenied(err) {
		t.Fatalf("rep list must be denied, got %v", err)
	}
	if _, err := arch.Read(ctx, rep, infos[0].Key); !domain.IsAccessDenied(err) {
		t.Fatalf("rep read must be denied, got %v", err)
	}
}
