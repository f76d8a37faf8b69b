package core

import (
	"testing"

	"crmcore/pkg/domain"
)

func TestNormalizeValue(t *testing.T) {
	cases := []struct {
		field, in, want string
	}{
		{domain.FieldEmail, "  John@Example.COM ", "john@example.com"},
		{domain.FieldWebsite, "HTTPS://Example.com", "https://example.com"},
		{domain.FieldPhone, "+1 (555) 010-7788", "+15550107788"},
		{domain.FieldPhone, "555 010 7788", "5550107788"},
		{domain.FieldPhone, "  ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeValue(tc.field, tc.in); got != tc.want {
			t.Fatalf("normalize(%s, %q) = %q, want %q", tc.field, tc.in, got, tc.want)
		}
	}
}

func TestCheckConflictsCrossKind(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldEmail, domain.EntityOrganisation, "org-1", "sales@acme.com", false)

	c := ix.CheckConflicts(domain.FieldEmail, "Sales@ACME.com", "", domain.EntityContact)
	if c == nil {
		t.Fatalf("expected cross-kind conflict")
	}
	if c.ExistingEntityID != "org-1" || c.ExistingEntityType != domain.EntityOrganisation {
		t.Fatalf("conflict owner %+v", c)
	}
	if c.Value != "Sales@ACME.com" {
		t.Fatalf("conflict must echo raw value, got %q", c.Value)
	}
	if len(c.SuggestedResolutions) == 0 {
		t.Fatalf("conflict must carry at least one suggested resolution")
	}
}

func TestCheckConflictsExcludesOwner(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldPhone, domain.EntityLead, "lead-1", "+1 555 0100", false)
	if c := ix.CheckConflicts(domain.FieldPhone, "15550100", "lead-1", domain.EntityLead); c != nil {
		t.Fatalf("record must not conflict with itself: %+v", c)
	}
	if c := ix.CheckConflicts(domain.FieldPhone, "+1-555-0100", "lead-2", domain.EntityLead); c == nil {
		t.Fatalf("other record must conflict")
	}
}

func TestPhoneRequiresFullMatch(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldPhone, domain.EntityContact, "c-1", "+49301234567", false)
	// Shared suffix, different country prefix: not a collision.
	if c := ix.CheckConflicts(domain.FieldPhone, "+44301234567", "", domain.EntityContact); c != nil {
		t.Fatalf("suffix overlap must not conflict: %+v", c)
	}
}

func TestSuggestedResolutionsShape(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldEmail, domain.EntityContact, "c-1", "ana@corp.io", false)
	c := ix.CheckConflicts(domain.FieldEmail, "ana@corp.io", "", domain.EntityLead)
	if c == nil {
		t.Fatalf("expected conflict")
	}
	byStrategy := map[domain.ResolutionStrategy]domain.Resolution{}
	for _, r := range c.SuggestedResolutions {
		byStrategy[r.Strategy] = r
	}
	merge, ok := byStrategy[domain.ResolutionMerge]
	if !ok || merge.TargetEntityID != "c-1" {
		t.Fatalf("merge suggestion must target the owner: %+v", merge)
	}
	if _, ok := byStrategy[domain.ResolutionSkip]; !ok {
		t.Fatalf("skip suggestion missing")
	}
	if _, ok := byStrategy[domain.ResolutionOverride]; !ok {
		t.Fatalf("override suggestion missing")
	}
	modify, ok := byStrategy[domain.ResolutionModify]
	if !ok {
		t.Fatalf("modify suggestion missing for email")
	}
	if modify.ModifiedValues[domain.FieldEmail] != "ana+1@corp.io" {
		t.Fatalf("modify suggestion %q", modify.ModifiedValues[domain.FieldEmail])
	}
}

func TestReplaceConstraintsForEntity(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.ReplaceConstraintsForEntity(domain.EntityContact, "c-1", map[string]string{
		domain.FieldEmail: "old@corp.io",
		domain.FieldPhone: "+1 555 0100",
	}, false)
	if ix.Len() != 2 {
		t.Fatalf("constraints %d, want 2", ix.Len())
	}
	ix.ReplaceConstraintsForEntity(domain.EntityContact, "c-1", map[string]string{
		domain.FieldEmail: "new@corp.io",
	}, false)
	if ix.Len() != 1 {
		t.Fatalf("stale constraints must be purged, have %d", ix.Len())
	}
	if c := ix.CheckConflicts(domain.FieldEmail, "old@corp.io", "", domain.EntityLead); c != nil {
		t.Fatalf("released value must be claimable: %+v", c)
	}
	if c := ix.CheckConflicts(domain.FieldEmail, "new@corp.io", "", domain.EntityLead); c == nil {
		t.Fatalf("current value must be held")
	}
}

func TestUpdateVerificationStatus(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldEmail, domain.EntityContact, "c-1", "ana@corp.io", false)
	if !ix.UpdateVerificationStatus(domain.FieldEmail, "ANA@corp.io", true) {
		t.Fatalf("expected existing constraint to be found")
	}
	out := ix.Export()
	if len(out) != 1 || !out[0].Verified {
		t.Fatalf("verification flag not persisted: %+v", out)
	}
	// Verification never weakens enforcement.
	if c := ix.CheckConflicts(domain.FieldEmail, "ana@corp.io", "", domain.EntityLead); c == nil {
		t.Fatalf("verified constraint must still block")
	}
	if ix.UpdateVerificationStatus(domain.FieldEmail, "missing@corp.io", true) {
		t.Fatalf("missing constraint must report false")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ix := NewUniquenessIndex()
	ix.AddConstraint(domain.FieldEmail, domain.EntityContact, "c-1", "ana@corp.io", true)
	ix.AddConstraint(domain.FieldPhone, domain.EntityLead, "l-1", "+1 555 0100", false)

	restored := NewUniquenessIndex()
	restored.Import(ix.Export())
	if restored.Len() != 2 {
		t.Fatalf("restored %d constraints, want 2", restored.Len())
	}
	if c := restored.CheckConflicts(domain.FieldPhone, "+1 (555) 0100", "", domain.EntityContact); c == nil {
		t.Fatalf("imported constraint must enforce")
	}
}
