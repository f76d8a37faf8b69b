package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmcore/pkg/domain"
)

// WriteOptions carries the acting user and per-call flags for mutating
// operations.
type WriteOptions struct {
	User domain.User
	// SkipUniquenessCheck bypasses the business validator and the uniqueness
	// index, for trusted imports.
	SkipUniquenessCheck bool
	// SkipHistoryLog suppresses the audit entry for this call.
	SkipHistoryLog bool
	Reason         string
	IPAddress      string
	UserAgent      string
}

// WriteResult reports the outcome of a mutating call. Validation errors and
// uniqueness conflicts are returned here rather than as errors so callers can
// surface several at once and offer resolution choices; permission denials
// and unknown ids are returned as errors instead.
type WriteResult[T any] struct {
	OK        bool
	Record    T
	Errors    []domain.ValidationError
	Conflicts []domain.Conflict
}

// Repository composes the entity store, access controller, uniqueness index
// and audit log into the create/update/remove/list/search/history operations
// for one entity kind. Every mutating call holds the write lock across the
// whole validate, check-uniqueness, mutate, reindex, audit sequence, so two
// concurrent writes can never both pass a uniqueness check before either
// commits. Repositories composed into one Service share a single lock; the
// uniqueness space spans kinds, so the race spans kinds too.
type Repository[T any, P recordPtr[T]] struct {
	mu        *sync.Mutex
	kind      domain.EntityType
	tenant    string
	store     *Store[T, P]
	access    *AccessController
	unique    *UniquenessIndex
	audit     *AuditLog
	validator domain.Validator[T]
	persist   func() error
	metrics   MetricsRecorder
	tracer    Tracer
	nowFn     func() time.Time
	idFn      func() string
}

// NewRepository constructs a repository for one entity kind over the shared
// tenant services. validator may be nil when the kind has no business rules.
func NewRepository[T any, P recordPtr[T]](kind domain.EntityType, tenant string, access *AccessController, unique *UniquenessIndex, audit *AuditLog, validator domain.Validator[T]) *Repository[T, P] {
	return &Repository[T, P]{
		mu:        &sync.Mutex{},
		kind:      kind,
		tenant:    tenant,
		store:     NewStore[T, P](),
		access:    access,
		unique:    unique,
		audit:     audit,
		validator: validator,
		nowFn:     func() time.Time { return time.Now().UTC() },
		idFn:      uuid.NewString,
	}
}

// Kind returns the entity kind served by this repository.
func (r *Repository[T, P]) Kind() domain.EntityType { return r.kind }

// Tenant returns the owning tenant id.
func (r *Repository[T, P]) Tenant() string { return r.tenant }

// shareLock replaces the repository's lock so sibling repositories serialize
// against each other. Called by the composing service before use.
func (r *Repository[T, P]) shareLock(mu *sync.Mutex) { r.mu = mu }

func (r *Repository[T, P]) instrument(ctx context.Context, op string) func(err error) {
	name := fmt.Sprintf("%s.%s", r.kind, op)
	start := time.Now()
	var span TraceSpan
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, name)
	}
	metrics := r.metrics
	return func(err error) {
		if metrics != nil {
			metrics.Observe(ctx, name, err == nil, time.Since(start))
		}
		if span != nil {
			span.End(err)
		}
	}
}

// Create validates and stores a new record. On success the record carries a
// generated id, the repository tenant, creation metadata, and a default
// assignment to the acting user. Records created by the rep role are forced
// to self-assignment and start unverified.
func (r *Repository[T, P]) Create(ctx context.Context, data T, opts WriteOptions) (WriteResult[T], error) {
	done := r.instrument(ctx, "create")
	res, err := r.createLocked(data, opts)
	if err == nil && res.OK {
		if perr := r.persistState(); perr != nil {
			res, err = WriteResult[T]{}, perr
		}
	}
	done(err)
	return res, err
}

func (r *Repository[T, P]) createLocked(data T, opts WriteOptions) (WriteResult[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.access.Check(opts.User, domain.OperationCreate, r.kind, nil); err != nil {
		return WriteResult[T]{}, err
	}

	var res WriteResult[T]
	ptr := P(&data)
	if !opts.SkipUniquenessCheck {
		if r.validator != nil {
			if vr := r.validator.ValidateCreate(ptr.Clone()); !vr.Valid {
				res.Errors = vr.Errors
			}
		}
		res.Conflicts = r.collectConflicts(ptr.IdentityFields(), ptr.Meta().ID, nil)
		if len(res.Errors) > 0 || len(res.Conflicts) > 0 {
			return res, nil
		}
	}

	meta := ptr.Meta()
	if meta.ID == "" {
		meta.ID = r.idFn()
	}
	if _, exists := r.store.Get(meta.ID); exists {
		return WriteResult[T]{}, fmt.Errorf("%s %q already exists", r.kind, meta.ID)
	}
	now := r.nowFn()
	meta.TenantID = r.tenant
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.CreatedBy = opts.User.ID
	meta.UpdatedBy = opts.User.ID
	if meta.AssignedUserID == "" {
		meta.AssignedUserID = opts.User.ID
	}
	if opts.User.Role == domain.RoleRep {
		// Reps may only create records for themselves, pending verification.
		meta.AssignedUserID = opts.User.ID
		meta.Verified = false
	}

	stored := ptr.Clone()
	r.store.Put(stored)
	r.refreshConstraints(&stored)
	if !opts.SkipHistoryLog {
		r.audit.Log(LogRecord{
			EntityType: r.kind,
			EntityID:   meta.ID,
			Operation:  domain.OperationCreate,
			UserID:     opts.User.ID,
			UserName:   opts.User.Name,
			UserRole:   opts.User.Role,
			AfterData:  entityPayload(stored),
			Reason:     opts.Reason,
			IPAddress:  opts.IPAddress,
			UserAgent:  opts.UserAgent,
		})
	}

	res.OK = true
	res.Record = P(&stored).Clone()
	return res, nil
}

// Update applies the mutator to a copy of the stored record and commits the
// result. Identifier, tenant and creation metadata are immutable; uniqueness
// is re-checked only for tracked fields the mutator actually changed. An
// update that changes nothing succeeds without writing or logging.
func (r *Repository[T, P]) Update(ctx context.Context, id string, mutate func(*T) error, opts WriteOptions) (WriteResult[T], error) {
	done := r.instrument(ctx, "update")
	res, wrote, err := r.updateLocked(id, mutate, opts)
	if err == nil && wrote {
		if perr := r.persistState(); perr != nil {
			res, err = WriteResult[T]{}, perr
		}
	}
	done(err)
	return res, err
}

func (r *Repository[T, P]) updateLocked(id string, mutate func(*T) error, opts WriteOptions) (WriteResult[T], bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.Get(id)
	if !ok {
		return WriteResult[T]{}, false, domain.NotFoundError{Entity: r.kind, ID: id}
	}
	if err := r.access.Check(opts.User, domain.OperationUpdate, r.kind, P(&current).Meta()); err != nil {
		return WriteResult[T]{}, false, err
	}

	before := P(&current).Clone()
	updated := P(&current).Clone()
	if err := mutate(&updated); err != nil {
		return WriteResult[T]{}, false, err
	}

	um := P(&updated).Meta()
	bm := P(&before).Meta()
	um.ID = bm.ID
	um.TenantID = bm.TenantID
	um.CreatedAt = bm.CreatedAt
	um.CreatedBy = bm.CreatedBy

	var res WriteResult[T]
	if !opts.SkipUniquenessCheck {
		if r.validator != nil {
			if vr := r.validator.ValidateUpdate(id, P(&updated).Clone(), P(&before).Clone()); !vr.Valid {
				res.Errors = vr.Errors
			}
		}
		res.Conflicts = r.collectConflicts(P(&updated).IdentityFields(), id, P(&before).IdentityFields())
		if len(res.Errors) > 0 || len(res.Conflicts) > 0 {
			return res, false, nil
		}
	}

	beforePayload := entityPayload(before)
	changed := DiffFields(beforePayload, entityPayload(updated))
	if len(changed) == 0 {
		res.OK = true
		res.Record = before
		return res, false, nil
	}

	um.UpdatedAt = r.nowFn()
	um.UpdatedBy = opts.User.ID
	stored := P(&updated).Clone()
	r.store.Put(stored)
	r.refreshConstraints(&stored)
	if !opts.SkipHistoryLog {
		r.audit.Log(LogRecord{
			EntityType:    r.kind,
			EntityID:      id,
			Operation:     domain.OperationUpdate,
			UserID:        opts.User.ID,
			UserName:      opts.User.Name,
			UserRole:      opts.User.Role,
			BeforeData:    beforePayload,
			AfterData:     entityPayload(stored),
			ChangedFields: changed,
			Reason:        opts.Reason,
			IPAddress:     opts.IPAddress,
			UserAgent:     opts.UserAgent,
		})
	}

	res.OK = true
	res.Record = P(&stored).Clone()
	return res, true, nil
}

// Delete removes a record permanently. The business validator may veto the
// delete; on success the record's uniqueness constraints are purged, a
// DELETE entry capturing the final state is logged, and the record is
// erased. The history trail is the only remaining evidence.
func (r *Repository[T, P]) Delete(ctx context.Context, id string, opts WriteOptions) (WriteResult[T], error) {
	done := r.instrument(ctx, "delete")
	res, err := r.deleteLocked(id, opts)
	if err == nil && res.OK {
		if perr := r.persistState(); perr != nil {
			res, err = WriteResult[T]{}, perr
		}
	}
	done(err)
	return res, err
}

func (r *Repository[T, P]) deleteLocked(id string, opts WriteOptions) (WriteResult[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.Get(id)
	if !ok {
		return WriteResult[T]{}, domain.NotFoundError{Entity: r.kind, ID: id}
	}
	if err := r.access.Check(opts.User, domain.OperationDelete, r.kind, P(&current).Meta()); err != nil {
		return WriteResult[T]{}, err
	}

	var res WriteResult[T]
	if r.validator != nil {
		if vr := r.validator.ValidateDelete(id, P(&current).Clone()); !vr.Valid {
			res.Errors = vr.Errors
			return res, nil
		}
	}

	r.unique.RemoveConstraintsForEntity(r.kind, id)
	if !opts.SkipHistoryLog {
		r.audit.Log(LogRecord{
			EntityType: r.kind,
			EntityID:   id,
			Operation:  domain.OperationDelete,
			UserID:     opts.User.ID,
			UserName:   opts.User.Name,
			UserRole:   opts.User.Role,
			BeforeData: entityPayload(current),
			Reason:     opts.Reason,
			IPAddress:  opts.IPAddress,
			UserAgent:  opts.UserAgent,
		})
	}
	r.store.Delete(id)

	res.OK = true
	res.Record = P(&current).Clone()
	return res, nil
}

// Get retrieves a record by id. Ids the user may not read are reported as
// not found, indistinguishable from absent ones.
func (r *Repository[T, P]) Get(ctx context.Context, user domain.User, id string) (T, error) {
	done := r.instrument(ctx, "get")
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	v, ok := r.store.Get(id)
	if !ok || !r.access.Allowed(user, domain.OperationRead, r.kind, P(&v).Meta()) {
		err := domain.NotFoundError{Entity: r.kind, ID: id}
		done(err)
		return zero, err
	}
	done(nil)
	return v, nil
}

// List returns the records visible to the user, optionally narrowed by
// field/value equality over the JSON representation. Out-of-scope records
// are silently dropped.
func (r *Repository[T, P]) List(ctx context.Context, user domain.User, filter map[string]string) []T {
	done := r.instrument(ctx, "list")
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0)
	for _, v := range r.store.All() {
		if !r.access.Allowed(user, domain.OperationRead, r.kind, P(&v).Meta()) {
			continue
		}
		if len(filter) > 0 && !matchesFilter(entityPayload(v), filter) {
			continue
		}
		out = append(out, v)
	}
	done(nil)
	return out
}

// Search returns visible records whose named fields contain the query,
// case-insensitively. An empty field list searches every field.
func (r *Repository[T, P]) Search(ctx context.Context, user domain.User, query string, fields []string) []T {
	done := r.instrument(ctx, "search")
	r.mu.Lock()
	defer r.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]T, 0)
	for _, v := range r.store.All() {
		if !r.access.Allowed(user, domain.OperationRead, r.kind, P(&v).Meta()) {
			continue
		}
		if query == "" || payloadContains(entityPayload(v), query, fields) {
			out = append(out, v)
		}
	}
	done(nil)
	return out
}

// History returns the audit trail for one record id, most recent first.
// Records the user may not read are masked as not found; for deleted records
// the same scoping applies against the ownership captured in the final audit
// entry, so deletion never widens who can read a record's trail.
func (r *Repository[T, P]) History(ctx context.Context, user domain.User, id string) ([]domain.HistoryEntry, error) {
	done := r.instrument(ctx, "history")
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.store.Get(id); ok {
		if !r.access.Allowed(user, domain.OperationRead, r.kind, P(&v).Meta()) {
			err := domain.NotFoundError{Entity: r.kind, ID: id}
			done(err)
			return nil, err
		}
		entries := r.audit.History(domain.HistoryFilter{EntityType: r.kind, EntityID: id})
		done(nil)
		return entries, nil
	}
	if err := r.access.Check(user, domain.OperationRead, r.kind, nil); err != nil {
		done(err)
		return nil, err
	}
	entries := r.audit.History(domain.HistoryFilter{EntityType: r.kind, EntityID: id})
	if len(entries) > 0 {
		if meta := finalMeta(id, entries[0]); meta != nil && !r.access.Allowed(user, domain.OperationRead, r.kind, meta) {
			err := domain.NotFoundError{Entity: r.kind, ID: id}
			done(err)
			return nil, err
		}
	}
	done(nil)
	return entries, nil
}

// finalMeta reconstructs ownership metadata from the newest audit entry of a
// deleted record, preferring the before payload captured by the delete.
func finalMeta(id string, e domain.HistoryEntry) *domain.Base {
	payload := e.BeforeData
	if payload == nil {
		payload = e.AfterData
	}
	if payload == nil {
		return nil
	}
	meta := &domain.Base{ID: id}
	if v, ok := payload["assigned_user_id"].(string); ok {
		meta.AssignedUserID = v
	}
	if v, ok := payload["created_by"].(string); ok {
		meta.CreatedBy = v
	}
	return meta
}

// Count returns the number of stored records regardless of visibility.
func (r *Repository[T, P]) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Len()
}

// Export clones the record map for snapshot serialization.
func (r *Repository[T, P]) Export() map[string]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Export()
}

// Import replaces the record map from a snapshot.
func (r *Repository[T, P]) Import(records map[string]T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Import(records)
}

// SetPersister installs the hook invoked after every committed mutation. The
// hook runs outside the write lock so it may re-enter the repository to
// export state. Install before serving traffic.
func (r *Repository[T, P]) SetPersister(persist func() error) {
	r.persist = persist
}

// SetTelemetry installs optional metrics and tracing sinks. Install before
// serving traffic.
func (r *Repository[T, P]) SetTelemetry(metrics MetricsRecorder, tracer Tracer) {
	r.metrics = metrics
	r.tracer = tracer
}

// collectConflicts checks every tracked field with a non-empty value against
// the shared index. On update, beforeFields narrows the check to fields whose
// value actually changed.
func (r *Repository[T, P]) collectConflicts(fields map[string]string, excludeID string, beforeFields map[string]string) []domain.Conflict {
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	var conflicts []domain.Conflict
	for _, field := range names {
		value := fields[field]
		if strings.TrimSpace(value) == "" {
			continue
		}
		if beforeFields != nil && NormalizeValue(field, value) == NormalizeValue(field, beforeFields[field]) {
			continue
		}
		if c := r.unique.CheckConflicts(field, value, excludeID, r.kind); c != nil {
			conflicts = append(conflicts, *c)
		}
	}
	return conflicts
}

func (r *Repository[T, P]) refreshConstraints(stored *T) {
	p := P(stored)
	meta := p.Meta()
	r.unique.ReplaceConstraintsForEntity(r.kind, meta.ID, p.IdentityFields(), meta.Verified)
}

func (r *Repository[T, P]) persistState() error {
	if r.persist == nil {
		return nil
	}
	if err := r.persist(); err != nil {
		return fmt.Errorf("persist %s state: %w", r.kind, err)
	}
	return nil
}

// entityPayload renders a record as its JSON object form, the neutral
// representation used for structural diffs and audit payloads.
func entityPayload(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func matchesFilter(payload map[string]any, filter map[string]string) bool {
	for field, want := range filter {
		got, ok := payload[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func payloadContains(payload map[string]any, query string, fields []string) bool {
	if len(fields) == 0 {
		for _, v := range payload {
			if strings.Contains(strings.ToLower(fmt.Sprint(v)), query) {
				return true
			}
		}
		return false
	}
	for _, field := range fields {
		v, ok := payload[field]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), query) {
			return true
		}
	}
	return false
}
