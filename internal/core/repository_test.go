package core

import (
	"context"
	"strings"
	"testing"

	"crmcore/pkg/domain"
)

var (
	admin = domain.User{ID: "admin-1", Name: "Alice", Role: domain.RoleAdmin}
	mgr   = domain.User{ID: "mgr-1", Name: "Mark", Role: domain.RoleManager}
	rep   = domain.User{ID: "rep-1", Name: "Rita", Role: domain.RoleRep}
	rep2  = domain.User{ID: "rep-2", Name: "Remy", Role: domain.RoleRep}
)

func newTestService() *Service {
	return NewService(ServiceConfig{Tenant: "t1"})
}

func mustCreateContact(t *testing.T, svc *Service, user domain.User, c domain.Contact) domain.Contact {
	t.Helper()
	res, err := svc.Contacts.Create(context.Background(), c, WriteOptions{User: user})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	if !res.OK {
		t.Fatalf("create contact rejected: errors=%v conflicts=%v", res.Errors, res.Conflicts)
	}
	return res.Record
}

func TestCreateAssignsMetadata(t *testing.T) {
	svc := newTestService()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})
	if rec.ID == "" {
		t.Fatalf("expected generated id")
	}
	if rec.TenantID != "t1" {
		t.Fatalf("tenant %q", rec.TenantID)
	}
	if rec.CreatedBy != mgr.ID || rec.UpdatedBy != mgr.ID {
		t.Fatalf("creator metadata %q/%q", rec.CreatedBy, rec.UpdatedBy)
	}
	if rec.AssignedUserID != mgr.ID {
		t.Fatalf("default assignment %q, want creator", rec.AssignedUserID)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("timestamps %v / %v", rec.CreatedAt, rec.UpdatedAt)
	}
}

func TestCreateConflictAcrossKinds(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	orgRes, err := svc.Organisations.Create(ctx, domain.Organisation{Name: "Acme", Email: "sales@acme.com"}, WriteOptions{User: admin})
	if err != nil || !orgRes.OK {
		t.Fatalf("create organisation: %v %+v", err, orgRes)
	}

	auditBefore := svc.AuditLen()
	constraintsBefore := svc.ConstraintCount()

	res, err := svc.Contacts.Create(ctx, domain.Contact{FirstName: "Sam", Email: "Sales@ACME.com"}, WriteOptions{User: admin})
	if err != nil {
		t.Fatalf("conflicting create must not error: %v", err)
	}
	if res.OK {
		t.Fatalf("conflicting create must be rejected")
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("conflicts %v", res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.ExistingEntityID != orgRes.Record.ID || c.ExistingEntityType != domain.EntityOrganisation {
		t.Fatalf("conflict owner %+v", c)
	}
	if c.Value != "Sales@ACME.com" {
		t.Fatalf("conflict must echo raw input, got %q", c.Value)
	}
	if len(c.SuggestedResolutions) == 0 {
		t.Fatalf("conflict must carry resolutions")
	}

	// A failed create must leave no trace anywhere.
	if svc.Contacts.Count() != 0 {
		t.Fatalf("rejected create stored a record")
	}
	if svc.AuditLen() != auditBefore {
		t.Fatalf("rejected create logged history")
	}
	if svc.ConstraintCount() != constraintsBefore {
		t.Fatalf("rejected create registered constraints")
	}
}

func TestRepCreateForcedSelfAssignment(t *testing.T) {
	svc := newTestService()
	res, err := svc.Leads.Create(context.Background(), domain.Lead{
		Title: "Inbound", Email: "lead@corp.io", Status: domain.LeadStatusNew,
		Base: domain.Base{AssignedUserID: mgr.ID, Verified: true},
	}, WriteOptions{User: rep})
	if err != nil || !res.OK {
		t.Fatalf("rep create: %v %+v", err, res)
	}
	if res.Record.AssignedUserID != rep.ID {
		t.Fatalf("rep record assigned to %q, want self", res.Record.AssignedUserID)
	}
	if res.Record.Verified {
		t.Fatalf("rep-created record must start unverified")
	}
}

func TestRepUpdateForeignRecordDenied(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, rep2, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})
	auditBefore := svc.AuditLen()

	_, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
		c.FirstName = "Eve"
		return nil
	}, WriteOptions{User: rep})
	if !domain.IsAccessDenied(err) {
		t.Fatalf("expected access denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "permission") {
		t.Fatalf("denial message %q must mention permission", err.Error())
	}
	if svc.AuditLen() != auditBefore {
		t.Fatalf("denied update must not be audited")
	}

	got, gerr := svc.Contacts.Get(ctx, admin, rec.ID)
	if gerr != nil || got.FirstName != "Ana" {
		t.Fatalf("record mutated by denied update: %v %+v", gerr, got)
	}
}

func TestUpdateTracksChangedFields(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", LastName: "Ng", Email: "ana@corp.io"})

	res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
		c.FirstName = "Anna"
		return nil
	}, WriteOptions{User: mgr})
	if err != nil || !res.OK {
		t.Fatalf("update: %v %+v", err, res)
	}

	entries, err := svc.Contacts.History(ctx, mgr, rec.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	latest := entries[0]
	if latest.Operation != domain.OperationUpdate {
		t.Fatalf("latest op %s", latest.Operation)
	}
	if len(latest.ChangedFields) != 1 || latest.ChangedFields[0] != "first_name" {
		t.Fatalf("changed fields %v, want [first_name]", latest.ChangedFields)
	}
}

func TestUpdateChainLinksBeforeAndAfter(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	for _, name := range []string{"Anna", "Anne"} {
		res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
			c.FirstName = name
			return nil
		}, WriteOptions{User: mgr})
		if err != nil || !res.OK {
			t.Fatalf("update to %q: %v %+v", name, err, res)
		}
	}

	entries, err := svc.Contacts.History(ctx, mgr, rec.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries %d, want create+2 updates", len(entries))
	}
	for _, e := range entries[:2] {
		if len(e.ChangedFields) != 1 || e.ChangedFields[0] != "first_name" {
			t.Fatalf("changed fields %v, want [first_name]", e.ChangedFields)
		}
	}
	// The second update's before state is the first update's after state.
	if entries[1].AfterData["first_name"] != "Anna" {
		t.Fatalf("first update after %v", entries[1].AfterData["first_name"])
	}
	if entries[0].BeforeData["first_name"] != "Anna" {
		t.Fatalf("second update before %v", entries[0].BeforeData["first_name"])
	}
	if entries[0].AfterData["first_name"] != "Anne" {
		t.Fatalf("second update after %v", entries[0].AfterData["first_name"])
	}
}

func TestUpdateNoOpSkipsAudit(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})
	auditBefore := svc.AuditLen()

	res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error { return nil }, WriteOptions{User: mgr})
	if err != nil || !res.OK {
		t.Fatalf("no-op update: %v %+v", err, res)
	}
	if svc.AuditLen() != auditBefore {
		t.Fatalf("no-op update must not be audited")
	}
	if !res.Record.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Fatalf("no-op update must not touch timestamps")
	}
}

func TestUpdateImmutableFields(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
		c.ID = "hijacked"
		c.TenantID = "t2"
		c.CreatedBy = "nobody"
		c.FirstName = "Anna"
		return nil
	}, WriteOptions{User: mgr})
	if err != nil || !res.OK {
		t.Fatalf("update: %v %+v", err, res)
	}
	if res.Record.ID != rec.ID || res.Record.TenantID != "t1" || res.Record.CreatedBy != mgr.ID {
		t.Fatalf("immutable fields drifted: %+v", res.Record.Base)
	}
}

func TestUpdateReleasesAndClaimsConstraints(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "old@corp.io"})

	res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
		c.Email = "new@corp.io"
		return nil
	}, WriteOptions{User: mgr})
	if err != nil || !res.OK {
		t.Fatalf("update: %v %+v", err, res)
	}

	// Old value is free again, new value is held.
	free, err := svc.Leads.Create(ctx, domain.Lead{Title: "L", Email: "old@corp.io"}, WriteOptions{User: admin})
	if err != nil || !free.OK {
		t.Fatalf("released value must be claimable: %v %+v", err, free)
	}
	held, err := svc.Leads.Create(ctx, domain.Lead{Title: "L2", Email: "new@corp.io"}, WriteOptions{User: admin})
	if err != nil || held.OK {
		t.Fatalf("claimed value must conflict: %v %+v", err, held)
	}
}

func TestUpdateKeepingOwnValueNoConflict(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	res, err := svc.Contacts.Update(ctx, rec.ID, func(c *domain.Contact) error {
		c.LastName = "Ng"
		return nil
	}, WriteOptions{User: mgr})
	if err != nil || !res.OK {
		t.Fatalf("update keeping own email must pass: %v %+v", err, res)
	}
}

func TestDeleteLeavesHistory(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	res, err := svc.Contacts.Delete(ctx, rec.ID, WriteOptions{User: admin})
	if err != nil || !res.OK {
		t.Fatalf("delete: %v %+v", err, res)
	}
	if _, err := svc.Contacts.Get(ctx, admin, rec.ID); !domain.IsNotFound(err) {
		t.Fatalf("deleted record must be gone, got %v", err)
	}
	if svc.ConstraintCount() != 0 {
		t.Fatalf("delete must release constraints")
	}

	entries, err := svc.Contacts.History(ctx, admin, rec.ID)
	if err != nil {
		t.Fatalf("history after delete: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries %d, want create+delete", len(entries))
	}
	if entries[0].Operation != domain.OperationDelete || entries[0].BeforeData == nil {
		t.Fatalf("delete entry %+v", entries[0])
	}

	// The freed value is claimable again.
	again, err := svc.Leads.Create(ctx, domain.Lead{Title: "L", Email: "ana@corp.io"}, WriteOptions{User: admin})
	if err != nil || !again.OK {
		t.Fatalf("freed value must be claimable: %v %+v", err, again)
	}
}

func TestDeletedRecordHistoryKeepsOwnershipMask(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, rep2, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	res, err := svc.Contacts.Delete(ctx, rec.ID, WriteOptions{User: admin})
	if err != nil || !res.OK {
		t.Fatalf("delete: %v %+v", err, res)
	}

	// Deletion must not widen visibility: a rep who could not read the
	// record keeps seeing not-found after it is gone.
	if _, err := svc.Contacts.History(ctx, rep, rec.ID); !domain.IsNotFound(err) {
		t.Fatalf("foreign deleted history must mask, got %v", err)
	}

	owned, err := svc.Contacts.History(ctx, rep2, rec.ID)
	if err != nil || len(owned) != 2 {
		t.Fatalf("owner history: %v (%d entries)", err, len(owned))
	}
	if _, err := svc.Contacts.History(ctx, mgr, rec.ID); err != nil {
		t.Fatalf("manager history: %v", err)
	}
}

func TestGetMasksForeignRecords(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	rec := mustCreateContact(t, svc, rep2, domain.Contact{FirstName: "Ana", Email: "ana@corp.io"})

	_, err := svc.Contacts.Get(ctx, rep, rec.ID)
	if !domain.IsNotFound(err) {
		t.Fatalf("foreign record must read as not found, got %v", err)
	}
	_, err = svc.Contacts.Get(ctx, rep, "no-such-id")
	if !domain.IsNotFound(err) {
		t.Fatalf("missing record: %v", err)
	}
}

func TestListScopesToOwnership(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateContact(t, svc, rep, domain.Contact{FirstName: "Mine", Email: "mine@corp.io"})
	mustCreateContact(t, svc, rep2, domain.Contact{FirstName: "Theirs", Email: "theirs@corp.io"})

	visible := svc.Contacts.List(ctx, rep, nil)
	if len(visible) != 1 || visible[0].FirstName != "Mine" {
		t.Fatalf("rep visibility %+v", visible)
	}
	all := svc.Contacts.List(ctx, mgr, nil)
	if len(all) != 2 {
		t.Fatalf("manager must see all, got %d", len(all))
	}

	filtered := svc.Contacts.List(ctx, mgr, map[string]string{"first_name": "Theirs"})
	if len(filtered) != 1 || filtered[0].FirstName != "Theirs" {
		t.Fatalf("filter %+v", filtered)
	}
}

func TestSearch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Anastasia", Email: "ana@corp.io"})
	mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Bo", Email: "bo@corp.io"})

	hits := svc.Contacts.Search(ctx, mgr, "ANASTA", []string{"first_name"})
	if len(hits) != 1 || hits[0].FirstName != "Anastasia" {
		t.Fatalf("search hits %+v", hits)
	}
	broad := svc.Contacts.Search(ctx, mgr, "corp.io", nil)
	if len(broad) != 2 {
		t.Fatalf("broad search %d hits, want 2", len(broad))
	}
}

func TestSkipUniquenessCheckBypassesIndex(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	mustCreateContact(t, svc, mgr, domain.Contact{FirstName: "Ana", Email: "dup@corp.io"})

	res, err := svc.Leads.Create(ctx, domain.Lead{Title: "Import", Email: "dup@corp.io"}, WriteOptions{User: admin, SkipUniquenessCheck: true})
	if err != nil || !res.OK {
		t.Fatalf("trusted import must bypass the index: %v %+v", err, res)
	}
}

type dealGuard struct{}

func (dealGuard) ValidateCreate(domain.Deal) domain.ValidationResult { return domain.ValidResult() }
func (dealGuard) ValidateUpdate(string, domain.Deal, domain.Deal) domain.ValidationResult {
	return domain.ValidResult()
}
func (dealGuard) ValidateDelete(_ string, existing domain.Deal) domain.ValidationResult {
	if existing.Stage == domain.DealStageClosedWon {
		return domain.Invalid(domain.ValidationError{Field: "stage", Code: "immutable", Message: "closed-won deals cannot be removed"})
	}
	return domain.ValidResult()
}

func TestValidatorVetoesDelete(t *testing.T) {
	svc := NewService(ServiceConfig{Tenant: "t1", DealValidator: dealGuard{}})
	ctx := context.Background()
	created, err := svc.Deals.Create(ctx, domain.Deal{Title: "Big", Stage: domain.DealStageClosedWon, Value: 100}, WriteOptions{User: admin})
	if err != nil || !created.OK {
		t.Fatalf("create deal: %v %+v", err, created)
	}

	res, err := svc.Deals.Delete(ctx, created.Record.ID, WriteOptions{User: admin})
	if err != nil {
		t.Fatalf("vetoed delete must not error: %v", err)
	}
	if res.OK || len(res.Errors) != 1 || res.Errors[0].Code != "immutable" {
		t.Fatalf("veto result %+v", res)
	}
	if svc.Deals.Count() != 1 {
		t.Fatalf("vetoed delete removed the record")
	}
}
