// Package domain defines the CRM record types, role and permission
// primitives, and the contracts shared between the repository core and its
// external collaborators (validators, persistence adapters, UI callers).
package domain

import "time"

// EntityType identifies the kind of record stored in the CRM core.
type EntityType string

// Supported entity kinds. The set is closed: every kind is served by the same
// repository framework and shares one tenant-wide uniqueness space.
const (
	// EntityOrganisation identifies a company/account record.
	EntityOrganisation EntityType = "organisation"
	// EntityContact identifies a person record.
	EntityContact EntityType = "contact"
	// EntityDeal identifies a sales opportunity record.
	EntityDeal EntityType = "deal"
	// EntityLead identifies an unqualified prospect record.
	EntityLead EntityType = "lead"
	// EntityTask identifies a follow-up activity record.
	EntityTask EntityType = "task"
	// EntityPipeline identifies a sales pipeline definition.
	EntityPipeline EntityType = "pipeline"
)

// EntityTypes returns every supported record kind in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityOrganisation,
		EntityContact,
		EntityDeal,
		EntityLead,
		EntityTask,
		EntityPipeline,
	}
}

// Tracked identity fields registered in the uniqueness index.
const (
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldWebsite    = "website"
	FieldProfileURL = "profile_url"
)

// Base contains the common fields embedded by every CRM record.
type Base struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by"`
	UpdatedBy      string    `json:"updated_by"`
	AssignedUserID string    `json:"assigned_user_id"`
	Verified       bool      `json:"verified"`
}

// Record is implemented by the pointer form of every entity struct. It gives
// the generic repository access to the shared metadata and to the tracked
// identity fields without reflection.
type Record interface {
	Meta() *Base
	Kind() EntityType
	// IdentityFields maps each tracked unique field name to its raw value.
	// Empty values are skipped by the uniqueness index.
	IdentityFields() map[string]string
}

// Organisation represents a company or account.
type Organisation struct {
	Base
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Website  string `json:"website"`
	Industry string `json:"industry"`
	Address  string `json:"address"`
	Notes    string `json:"notes"`
}

// Meta returns the shared record metadata.
func (o *Organisation) Meta() *Base { return &o.Base }

// Kind returns the entity kind.
func (o *Organisation) Kind() EntityType { return EntityOrganisation }

// IdentityFields returns the tracked unique fields for organisations.
func (o *Organisation) IdentityFields() map[string]string {
	return map[string]string{
		FieldEmail:   o.Email,
		FieldPhone:   o.Phone,
		FieldWebsite: o.Website,
	}
}

// Clone returns a deep copy.
func (o *Organisation) Clone() Organisation { return *o }

// Contact represents a person, optionally linked to an organisation.
type Contact struct {
	Base
	FirstName      string  `json:"first_name"`
	LastName       string  `json:"last_name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	ProfileURL     string  `json:"profile_url"`
	Position       string  `json:"position"`
	OrganisationID *string `json:"organisation_id"`
}

// Meta returns the shared record metadata.
func (c *Contact) Meta() *Base { return &c.Base }

// Kind returns the entity kind.
func (c *Contact) Kind() EntityType { return EntityContact }

// IdentityFields returns the tracked unique fields for contacts.
func (c *Contact) IdentityFields() map[string]string {
	return map[string]string{
		FieldEmail:      c.Email,
		FieldPhone:      c.Phone,
		FieldProfileURL: c.ProfileURL,
	}
}

// Clone returns a deep copy.
func (c *Contact) Clone() Contact {
	cp := *c
	if c.OrganisationID != nil {
		id := *c.OrganisationID
		cp.OrganisationID = &id
	}
	return cp
}

// DealStage enumerates the canonical deal workflow states.
type DealStage string

// Canonical deal stages.
const (
	DealStageQualification DealStage = "qualification"
	DealStageProposal      DealStage = "proposal"
	DealStageNegotiation   DealStage = "negotiation"
	DealStageClosedWon     DealStage = "closed_won"
	DealStageClosedLost    DealStage = "closed_lost"
)

// Deal represents a sales opportunity.
type Deal struct {
	Base
	Title           string     `json:"title"`
	Value           float64    `json:"value"`
	Currency        string     `json:"currency"`
	Stage           DealStage  `json:"stage"`
	PipelineID      *string    `json:"pipeline_id"`
	OrganisationID  *string    `json:"organisation_id"`
	ContactID       *string    `json:"contact_id"`
	ExpectedCloseAt *time.Time `json:"expected_close_at"`
}

// Meta returns the shared record metadata.
func (d *Deal) Meta() *Base { return &d.Base }

// Kind returns the entity kind.
func (d *Deal) Kind() EntityType { return EntityDeal }

// IdentityFields returns no tracked fields; deals carry no global identity.
func (d *Deal) IdentityFields() map[string]string { return nil }

// Clone returns a deep copy.
func (d *Deal) Clone() Deal {
	cp := *d
	cp.PipelineID = cloneStringPtr(d.PipelineID)
	cp.OrganisationID = cloneStringPtr(d.OrganisationID)
	cp.ContactID = cloneStringPtr(d.ContactID)
	if d.ExpectedCloseAt != nil {
		t := *d.ExpectedCloseAt
		cp.ExpectedCloseAt = &t
	}
	return cp
}

// LeadStatus enumerates the canonical lead workflow states.
type LeadStatus string

// Canonical lead statuses.
const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusLost      LeadStatus = "lost"
)

// Lead represents an unqualified prospect.
type Lead struct {
	Base
	Title  string     `json:"title"`
	Email  string     `json:"email"`
	Phone  string     `json:"phone"`
	Source string     `json:"source"`
	Status LeadStatus `json:"status"`
	Value  float64    `json:"value"`
}

// Meta returns the shared record metadata.
func (l *Lead) Meta() *Base { return &l.Base }

// Kind returns the entity kind.
func (l *Lead) Kind() EntityType { return EntityLead }

// IdentityFields returns the tracked unique fields for leads. Leads share the
// email and phone uniqueness space with organisations and contacts.
func (l *Lead) IdentityFields() map[string]string {
	return map[string]string{
		FieldEmail: l.Email,
		FieldPhone: l.Phone,
	}
}

// Clone returns a deep copy.
func (l *Lead) Clone() Lead { return *l }

// TaskStatus enumerates task completion states.
type TaskStatus string

// Canonical task statuses.
const (
	TaskStatusOpen TaskStatus = "open"
	TaskStatusDone TaskStatus = "done"
)

// Task represents a follow-up activity, optionally linked to another record.
type Task struct {
	Base
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      TaskStatus  `json:"status"`
	Priority    int         `json:"priority"`
	DueAt       *time.Time  `json:"due_at"`
	RelatedType *EntityType `json:"related_type"`
	RelatedID   *string     `json:"related_id"`
}

// Meta returns the shared record metadata.
func (t *Task) Meta() *Base { return &t.Base }

// Kind returns the entity kind.
func (t *Task) Kind() EntityType { return EntityTask }

// IdentityFields returns no tracked fields.
func (t *Task) IdentityFields() map[string]string { return nil }

// Clone returns a deep copy.
func (t *Task) Clone() Task {
	cp := *t
	if t.DueAt != nil {
		d := *t.DueAt
		cp.DueAt = &d
	}
	if t.RelatedType != nil {
		rt := *t.RelatedType
		cp.RelatedType = &rt
	}
	cp.RelatedID = cloneStringPtr(t.RelatedID)
	return cp
}

// Pipeline represents an ordered set of deal stages.
type Pipeline struct {
	Base
	Name      string   `json:"name"`
	Stages    []string `json:"stages"`
	IsDefault bool     `json:"is_default"`
}

// Meta returns the shared record metadata.
func (p *Pipeline) Meta() *Base { return &p.Base }

// Kind returns the entity kind.
func (p *Pipeline) Kind() EntityType { return EntityPipeline }

// IdentityFields returns no tracked fields.
func (p *Pipeline) IdentityFields() map[string]string { return nil }

// Clone returns a deep copy.
func (p *Pipeline) Clone() Pipeline {
	cp := *p
	cp.Stages = append([]string(nil), p.Stages...)
	return cp
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
