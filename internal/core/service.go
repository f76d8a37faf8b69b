package core

import (
	"fmt"
	"sync"

	"crmcore/pkg/domain"
)

// ServiceConfig configures a tenant's CRM core. Only Tenant is required.
type ServiceConfig struct {
	Tenant      string
	Permissions domain.PermissionProfile
	Metrics     MetricsRecorder
	Tracer      Tracer

	// Optional per-kind business validators.
	OrganisationValidator domain.Validator[domain.Organisation]
	ContactValidator      domain.Validator[domain.Contact]
	DealValidator         domain.Validator[domain.Deal]
	LeadValidator         domain.Validator[domain.Lead]
	TaskValidator         domain.Validator[domain.Task]
	PipelineValidator     domain.Validator[domain.Pipeline]
}

// Service owns one tenant's CRM state: a repository per entity kind wired to
// a shared access controller, uniqueness index and audit log. All
// repositories serialize writes on one lock so a uniqueness check in any kind
// is atomic with respect to writes in every other kind.
type Service struct {
	tenant string
	mu     *sync.Mutex
	access *AccessController
	unique *UniquenessIndex
	audit  *AuditLog
	store  domain.PersistentStore

	Organisations *Repository[domain.Organisation, *domain.Organisation]
	Contacts      *Repository[domain.Contact, *domain.Contact]
	Deals         *Repository[domain.Deal, *domain.Deal]
	Leads         *Repository[domain.Lead, *domain.Lead]
	Tasks         *Repository[domain.Task, *domain.Task]
	Pipelines     *Repository[domain.Pipeline, *domain.Pipeline]
}

// NewService constructs a fully wired tenant core with empty state.
func NewService(cfg ServiceConfig) *Service {
	access := NewAccessController(cfg.Permissions)
	unique := NewUniquenessIndex()
	audit := NewAuditLog(cfg.Tenant)
	svc := &Service{
		tenant: cfg.Tenant,
		mu:     &sync.Mutex{},
		access: access,
		unique: unique,
		audit:  audit,

		Organisations: NewRepository[domain.Organisation, *domain.Organisation](domain.EntityOrganisation, cfg.Tenant, access, unique, audit, cfg.OrganisationValidator),
		Contacts:      NewRepository[domain.Contact, *domain.Contact](domain.EntityContact, cfg.Tenant, access, unique, audit, cfg.ContactValidator),
		Deals:         NewRepository[domain.Deal, *domain.Deal](domain.EntityDeal, cfg.Tenant, access, unique, audit, cfg.DealValidator),
		Leads:         NewRepository[domain.Lead, *domain.Lead](domain.EntityLead, cfg.Tenant, access, unique, audit, cfg.LeadValidator),
		Tasks:         NewRepository[domain.Task, *domain.Task](domain.EntityTask, cfg.Tenant, access, unique, audit, cfg.TaskValidator),
		Pipelines:     NewRepository[domain.Pipeline, *domain.Pipeline](domain.EntityPipeline, cfg.Tenant, access, unique, audit, cfg.PipelineValidator),
	}
	svc.Organisations.shareLock(svc.mu)
	svc.Contacts.shareLock(svc.mu)
	svc.Deals.shareLock(svc.mu)
	svc.Leads.shareLock(svc.mu)
	svc.Tasks.shareLock(svc.mu)
	svc.Pipelines.shareLock(svc.mu)
	svc.Organisations.SetTelemetry(cfg.Metrics, cfg.Tracer)
	svc.Contacts.SetTelemetry(cfg.Metrics, cfg.Tracer)
	svc.Deals.SetTelemetry(cfg.Metrics, cfg.Tracer)
	svc.Leads.SetTelemetry(cfg.Metrics, cfg.Tracer)
	svc.Tasks.SetTelemetry(cfg.Metrics, cfg.Tracer)
	svc.Pipelines.SetTelemetry(cfg.Metrics, cfg.Tracer)
	return svc
}

// Tenant returns the owning tenant id.
func (s *Service) Tenant() string { return s.tenant }

// AttachPersister wires a persistence adapter: previously saved state is
// loaded first, then every repository saves through the adapter after each
// committed mutation. Returns whether prior state was restored.
func (s *Service) AttachPersister(store domain.PersistentStore) (bool, error) {
	loaded, err := store.Load()
	if err != nil {
		return false, fmt.Errorf("load persisted state: %w", err)
	}
	s.store = store
	save := store.Save
	s.Organisations.SetPersister(save)
	s.Contacts.SetPersister(save)
	s.Deals.SetPersister(save)
	s.Leads.SetPersister(save)
	s.Tasks.SetPersister(save)
	s.Pipelines.SetPersister(save)
	return loaded, nil
}

// ExportState serializes the full tenant state into a snapshot.
func (s *Service) ExportState() domain.Snapshot {
	snap := domain.Snapshot{
		Organisations: s.Organisations.Export(),
		Contacts:      s.Contacts.Export(),
		Deals:         s.Deals.Export(),
		Leads:         s.Leads.Export(),
		Tasks:         s.Tasks.Export(),
		Pipelines:     s.Pipelines.Export(),
		Constraints:   s.unique.Export(),
		History:       s.audit.Export(),
	}
	return domain.MigrateSnapshot(snap)
}

// ImportState replaces the full tenant state from a snapshot, migrating
// older serializations first.
func (s *Service) ImportState(snap domain.Snapshot) {
	snap = domain.MigrateSnapshot(snap)
	s.Organisations.Import(snap.Organisations)
	s.Contacts.Import(snap.Contacts)
	s.Deals.Import(snap.Deals)
	s.Leads.Import(snap.Leads)
	s.Tasks.Import(snap.Tasks)
	s.Pipelines.Import(snap.Pipelines)
	s.unique.Import(snap.Constraints)
	s.audit.Import(snap.History)
}

// UpdateVerificationStatus marks the owner of a tracked identity value as
// verified or unverified in the uniqueness index. Restricted to admins; the
// change is audited against the owning record.
func (s *Service) UpdateVerificationStatus(user domain.User, field, value string, verified bool) error {
	if user.Role != domain.RoleAdmin {
		return domain.AccessDeniedError{Operation: domain.OperationUpdate, Entity: "uniqueness_constraint", Role: user.Role}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unique.UpdateVerificationStatus(field, value, verified) {
		return domain.NotFoundError{Entity: "uniqueness_constraint", ID: field + ":" + value}
	}
	return nil
}

// VerifyIntegrity recomputes every audit entry checksum. Restricted to
// admins.
func (s *Service) VerifyIntegrity(user domain.User) (IntegrityReport, error) {
	if user.Role != domain.RoleAdmin {
		return IntegrityReport{}, domain.AccessDeniedError{Operation: domain.OperationRead, Entity: "audit_log", Role: user.Role}
	}
	return s.audit.VerifyIntegrity(), nil
}

// Statistics aggregates the audit trail. Available to admins and managers.
func (s *Service) Statistics(user domain.User) (Statistics, error) {
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleManager {
		return Statistics{}, domain.AccessDeniedError{Operation: domain.OperationRead, Entity: "audit_log", Role: user.Role}
	}
	return s.audit.Statistics(), nil
}

// History queries the tenant-wide audit trail. Available to admins and
// managers; reps use the per-record history on each repository instead.
func (s *Service) History(user domain.User, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if user.Role != domain.RoleAdmin && user.Role != domain.RoleManager {
		return nil, domain.AccessDeniedError{Operation: domain.OperationRead, Entity: "audit_log", Role: user.Role}
	}
	return s.audit.History(filter), nil
}

// AuditLen returns the number of audit entries.
func (s *Service) AuditLen() int { return s.audit.Len() }

// ConstraintCount returns the number of active uniqueness constraints.
func (s *Service) ConstraintCount() int { return s.unique.Len() }

// TotalRecords counts stored records across every kind.
func (s *Service) TotalRecords() int {
	return s.Organisations.Count() + s.Contacts.Count() + s.Deals.Count() +
		s.Leads.Count() + s.Tasks.Count() + s.Pipelines.Count()
}

// Reset discards all in-memory state and any persisted copy.
func (s *Service) Reset() error {
	s.ImportState(domain.Snapshot{})
	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			return fmt.Errorf("clear persisted state: %w", err)
		}
	}
	return nil
}
