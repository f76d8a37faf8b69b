package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmcore/pkg/domain"
)

// AuditLog is the append-only, checksum-protected record of every mutation
// that reaches the data layer. Entries are immutable once appended. Permission
// denials raised before a mutation never produce an entry; they surface
// through metrics and tracing instead.
type AuditLog struct {
	mu      sync.RWMutex
	tenant  string
	entries []domain.HistoryEntry
	nowFn   func() time.Time
	idFn    func() string
}

// NewAuditLog constructs an empty log for one tenant. Instances are injected
// into repositories by the composing service; there is no shared global.
func NewAuditLog(tenant string) *AuditLog {
	return &AuditLog{
		tenant: tenant,
		nowFn:  func() time.Time { return time.Now().UTC() },
		idFn:   uuid.NewString,
	}
}

// LogRecord carries the inputs for one audit entry.
type LogRecord struct {
	EntityType    domain.EntityType
	EntityID      string
	Operation     domain.Operation
	UserID        string
	UserName      string
	UserRole      domain.Role
	BeforeData    map[string]any
	AfterData     map[string]any
	ChangedFields []string
	Reason        string
	IPAddress     string
	UserAgent     string
}

// Log appends an entry. When ChangedFields is nil it is derived by a
// structural diff of BeforeData and AfterData. The checksum is a sha256
// digest over the canonical serialization of the mutation payload.
func (l *AuditLog) Log(rec LogRecord) domain.HistoryEntry {
	changed := rec.ChangedFields
	if changed == nil {
		changed = DiffFields(rec.BeforeData, rec.AfterData)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := domain.HistoryEntry{
		ID:            l.idFn(),
		TenantID:      l.tenant,
		EntityType:    rec.EntityType,
		EntityID:      rec.EntityID,
		Operation:     rec.Operation,
		UserID:        rec.UserID,
		UserName:      rec.UserName,
		UserRole:      rec.UserRole,
		ChangedFields: changed,
		BeforeData:    rec.BeforeData,
		AfterData:     rec.AfterData,
		Reason:        rec.Reason,
		IPAddress:     rec.IPAddress,
		UserAgent:     rec.UserAgent,
		CreatedAt:     l.nowFn(),
	}
	entry.Checksum = entryChecksum(entry)
	l.entries = append(l.entries, entry)
	return cloneEntry(entry)
}

// volatileFields change on every write and are excluded from structural
// diffs so changed-field lists name only meaningful fields.
var volatileFields = map[string]struct{}{
	"updated_at": {},
	"updated_by": {},
}

// DiffFields returns the sorted names of top-level fields whose values differ
// between the two payloads.
func DiffFields(before, after map[string]any) []string {
	names := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		names[k] = struct{}{}
	}
	for k := range after {
		names[k] = struct{}{}
	}
	changed := make([]string, 0, len(names))
	for k := range names {
		if _, skip := volatileFields[k]; skip {
			continue
		}
		if !reflect.DeepEqual(before[k], after[k]) {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// checksumPayload fixes the canonical field order for hashing. Map values are
// serialized by encoding/json with sorted keys, so the digest is stable for
// equal content.
type checksumPayload struct {
	Operation     domain.Operation `json:"operation"`
	EntityID      string           `json:"entity_id"`
	UserID        string           `json:"user_id"`
	Timestamp     string           `json:"timestamp"`
	ChangedFields []string         `json:"changed_fields"`
	Before        map[string]any   `json:"before"`
	After         map[string]any   `json:"after"`
}

func entryChecksum(e domain.HistoryEntry) string {
	data, err := json.Marshal(checksumPayload{
		Operation:     e.Operation,
		EntityID:      e.EntityID,
		UserID:        e.UserID,
		Timestamp:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		ChangedFields: e.ChangedFields,
		Before:        e.BeforeData,
		After:         e.AfterData,
	})
	if err != nil {
		// Payloads originate from json round-trips; marshalling cannot fail.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// History returns entries matching the filter, most recent first.
func (l *AuditLog) History(f domain.HistoryFilter) []domain.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.HistoryEntry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !f.Matches(e) {
			continue
		}
		out = append(out, cloneEntry(e))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// IntegrityReport summarizes a verification pass over the log.
type IntegrityReport struct {
	Valid             bool     `json:"valid"`
	CorruptedEntryIDs []string `json:"corrupted_entry_ids"`
}

// VerifyIntegrity recomputes every entry's checksum and reports mismatches.
// Corruption is reported, never repaired.
func (l *AuditLog) VerifyIntegrity() IntegrityReport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	report := IntegrityReport{Valid: true, CorruptedEntryIDs: []string{}}
	for _, e := range l.entries {
		if entryChecksum(e) != e.Checksum {
			report.Valid = false
			report.CorruptedEntryIDs = append(report.CorruptedEntryIDs, e.ID)
		}
	}
	return report
}

// Statistics aggregates the log for reporting surfaces.
type Statistics struct {
	TotalEntries int                       `json:"total_entries"`
	ByOperation  map[domain.Operation]int  `json:"by_operation"`
	ByEntityType map[domain.EntityType]int `json:"by_entity_type"`
	ByUser       map[string]int            `json:"by_user"`
	OldestEntry  time.Time                 `json:"oldest_entry"`
	NewestEntry  time.Time                 `json:"newest_entry"`
}

// Statistics returns aggregate counts by operation, entity kind and user.
func (l *AuditLog) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stats := Statistics{
		TotalEntries: len(l.entries),
		ByOperation:  make(map[domain.Operation]int),
		ByEntityType: make(map[domain.EntityType]int),
		ByUser:       make(map[string]int),
	}
	for i, e := range l.entries {
		stats.ByOperation[e.Operation]++
		stats.ByEntityType[e.EntityType]++
		stats.ByUser[e.UserID]++
		if i == 0 {
			stats.OldestEntry = e.CreatedAt
		}
		stats.NewestEntry = e.CreatedAt
	}
	return stats
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Export clones every entry in append order for snapshot serialization.
func (l *AuditLog) Export() []domain.HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.HistoryEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

// Import replaces the log contents. Stored checksums are preserved verbatim
// so a later VerifyIntegrity still detects tampering that predates the save.
func (l *AuditLog) Import(entries []domain.HistoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]domain.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		l.entries = append(l.entries, cloneEntry(e))
	}
}

func cloneEntry(e domain.HistoryEntry) domain.HistoryEntry {
	cp := e
	cp.ChangedFields = append([]string(nil), e.ChangedFields...)
	cp.BeforeData = clonePayload(e.BeforeData)
	cp.AfterData = clonePayload(e.AfterData)
	return cp
}

func clonePayload(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
