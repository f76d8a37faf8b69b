package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"crmcore/internal/infra/blob"
	"crmcore/pkg/domain"
)

// ArchiveVersion is the schema version written into archive documents.
const ArchiveVersion = "1.0"

// ArchiveDocument is the serialized form of an audit archive export.
type ArchiveDocument struct {
	Version    string                `json:"version"`
	Tenant     string                `json:"tenant"`
	ExportedAt time.Time             `json:"exported_at"`
	ExportedBy string                `json:"exported_by"`
	EntryCount int                   `json:"entry_count"`
	Entries    []domain.HistoryEntry `json:"entries"`
}

// AuditArchiver writes point-in-time audit trail exports to blob storage.
// Archives are write-once objects keyed by tenant and export timestamp.
type AuditArchiver struct {
	svc   *Service
	store blob.Store
	log   *logrus.Logger
	nowFn func() time.Time
}

// NewAuditArchiver builds an archiver over the service's audit log.
func NewAuditArchiver(svc *Service, store blob.Store, log *logrus.Logger) *AuditArchiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuditArchiver{
		svc:   svc,
		store: store,
		log:   log,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// Archive exports the audit entries matching the filter as a JSON document.
// Restricted to admins and managers, like the tenant-wide history query.
func (a *AuditArchiver) Archive(ctx context.Context, user domain.User, filter domain.HistoryFilter) (blob.Info, error) {
	entries, err := a.svc.History(user, filter)
	if err != nil {
		return blob.Info{}, err
	}
	now := a.nowFn()
	doc := ArchiveDocument{
		Version:    ArchiveVersion,
		Tenant:     a.svc.Tenant(),
		ExportedAt: now,
		ExportedBy: user.ID,
		EntryCount: len(entries),
		Entries:    entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode archive: %w", err)
	}
	key := fmt.Sprintf("audit/%s/%s.json", a.svc.Tenant(), now.Format("20060102T150405.000000000Z"))
	info, err := a.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"tenant":      a.svc.Tenant(),
			"exported_by": user.ID,
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store archive: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"tenant":  a.svc.Tenant(),
		"key":     info.Key,
		"entries": len(entries),
		"bytes":   info.Size,
	}).Info("audit archive exported")
	return info, nil
}

// List returns archive metadata for the tenant, sorted by key (and therefore
// by export time).
func (a *AuditArchiver) List(ctx context.Context, user domain.User) ([]blob.Info, error) {
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleManager {
		return nil, domain.AccessDeniedError{Operation: domain.OperationRead, Entity: "audit_archive", Role: user.Role}
	}
	return a.store.List(ctx, "audit/"+a.svc.Tenant()+"/")
}

// Read fetches and decodes one archive document.
func (a *AuditArchiver) Read(ctx context.Context, user domain.User, key string) (ArchiveDocument, error) {
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleManager {
		return ArchiveDocument{}, domain.AccessDeniedError{Operation: domain.OperationRead, Entity: "audit_archive", Role: user.Role}
	}
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return ArchiveDocument{}, fmt.Errorf("fetch archive: %w", err)
	}
	defer func() { _ = rc.Close() }()
	var doc ArchiveDocument
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return ArchiveDocument{}, fmt.Errorf("decode archive: %w", err)
	}
	return doc, nil
}
