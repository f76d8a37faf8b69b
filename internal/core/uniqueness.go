package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"crmcore/pkg/domain"
)

// UniquenessIndex is the tenant-wide registry mapping normalized identity
// values to their current owning record. The space is deliberately shared
// across entity kinds: an email owned by an organisation blocks the same
// email on a contact or a lead.
type UniquenessIndex struct {
	mu          sync.RWMutex
	constraints map[string]domain.UniquenessConstraint
}

// NewUniquenessIndex constructs an empty index. Instances are injected into
// repositories by the composing service; there is no shared global.
func NewUniquenessIndex() *UniquenessIndex {
	return &UniquenessIndex{constraints: make(map[string]domain.UniquenessConstraint)}
}

// NormalizeValue canonicalizes a raw identity value for comparison. Free-text
// identifiers compare case-insensitively after trimming; phone numbers keep
// one leading "+" and their digits. Two phones collide only when their
// normalized strings are equal in full — no suffix matching.
func NormalizeValue(field, value string) string {
	value = strings.TrimSpace(value)
	if field == domain.FieldPhone {
		return normalizePhone(value)
	}
	return strings.ToLower(value)
}

func normalizePhone(value string) string {
	var b strings.Builder
	for i, r := range value {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func constraintKey(field, normalized string) string {
	return field + "\x1f" + normalized
}

// CheckConflicts reports a conflict when the normalized value already has an
// owner whose id differs from excludeEntityID, regardless of the owner's
// entity kind. The returned conflict echoes the raw value and always carries
// at least one suggested resolution.
func (ix *UniquenessIndex) CheckConflicts(field, value, excludeEntityID string, kind domain.EntityType) *domain.Conflict {
	normalized := NormalizeValue(field, value)
	if normalized == "" {
		return nil
	}
	ix.mu.RLock()
	owner, ok := ix.constraints[constraintKey(field, normalized)]
	ix.mu.RUnlock()
	if !ok || owner.EntityID == excludeEntityID {
		return nil
	}
	return &domain.Conflict{
		Field:                field,
		Value:                value,
		ExistingEntityID:     owner.EntityID,
		ExistingEntityType:   owner.EntityType,
		SuggestedResolutions: suggestResolutions(field, value, owner),
	}
}

func suggestResolutions(field, value string, owner domain.UniquenessConstraint) []domain.Resolution {
	out := []domain.Resolution{
		{
			Strategy:       domain.ResolutionMerge,
			TargetEntityID: owner.EntityID,
			FieldsToMerge:  []string{field},
		},
		{Strategy: domain.ResolutionSkip},
		{
			Strategy: domain.ResolutionOverride,
			Reason:   fmt.Sprintf("duplicate %s accepted intentionally", field),
		},
	}
	if suggestion := modifiedValue(field, value); suggestion != "" {
		out = append(out, domain.Resolution{
			Strategy:       domain.ResolutionModify,
			ModifiedValues: map[string]string{field: suggestion},
		})
	}
	return out
}

// modifiedValue proposes a non-colliding variant where one exists naturally.
func modifiedValue(field, value string) string {
	if field == domain.FieldEmail {
		if at := strings.IndexByte(value, '@'); at > 0 {
			return value[:at] + "+1" + value[at:]
		}
	}
	return ""
}

// AddConstraint registers the current owner of a value. An existing
// constraint under the same key is replaced; callers enforce conflicts via
// CheckConflicts before writing.
func (ix *UniquenessIndex) AddConstraint(field string, kind domain.EntityType, entityID, value string, verified bool) {
	normalized := NormalizeValue(field, value)
	if normalized == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.constraints[constraintKey(field, normalized)] = domain.UniquenessConstraint{
		Field:      field,
		Value:      normalized,
		EntityType: kind,
		EntityID:   entityID,
		Verified:   verified,
	}
}

// RemoveConstraintsForEntity purges every constraint owned by the record.
func (ix *UniquenessIndex) RemoveConstraintsForEntity(kind domain.EntityType, entityID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for key, c := range ix.constraints {
		if c.EntityType == kind && c.EntityID == entityID {
			delete(ix.constraints, key)
		}
	}
}

// ReplaceConstraintsForEntity refreshes a record's constraints after a
// successful write: all prior constraints are removed and the given fields
// re-added, so stale tracked values can never remain indexed.
func (ix *UniquenessIndex) ReplaceConstraintsForEntity(kind domain.EntityType, entityID string, fields map[string]string, verified bool) {
	ix.RemoveConstraintsForEntity(kind, entityID)
	for field, value := range fields {
		ix.AddConstraint(field, kind, entityID, value, verified)
	}
}

// UpdateVerificationStatus marks the current owner of a value as verified (or
// not) for audit purposes. It does not change uniqueness enforcement: an
// unverified owner still blocks conflicting writes. Returns false when no
// constraint exists for the value.
func (ix *UniquenessIndex) UpdateVerificationStatus(field, value string, verified bool) bool {
	normalized := NormalizeValue(field, value)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	key := constraintKey(field, normalized)
	c, ok := ix.constraints[key]
	if !ok {
		return false
	}
	c.Verified = verified
	ix.constraints[key] = c
	return true
}

// Len returns the number of active constraints.
func (ix *UniquenessIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.constraints)
}

// Export returns every constraint sorted by field then value, for snapshot
// serialization.
func (ix *UniquenessIndex) Export() []domain.UniquenessConstraint {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]domain.UniquenessConstraint, 0, len(ix.constraints))
	for _, c := range ix.constraints {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Import replaces the index contents with the given constraints. Values are
// assumed already normalized (they are written that way by AddConstraint).
func (ix *UniquenessIndex) Import(constraints []domain.UniquenessConstraint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.constraints = make(map[string]domain.UniquenessConstraint, len(constraints))
	for _, c := range constraints {
		ix.constraints[constraintKey(c.Field, c.Value)] = c
	}
}
