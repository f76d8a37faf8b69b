package domain

// ResolutionStrategy names one way to resolve a uniqueness conflict.
type ResolutionStrategy string

// Supported conflict resolution strategies.
const (
	// ResolutionMerge folds the new data into the existing owner record.
	ResolutionMerge ResolutionStrategy = "merge"
	// ResolutionSkip abandons the conflicting write.
	ResolutionSkip ResolutionStrategy = "skip"
	// ResolutionOverride proceeds anyway, recording a reason.
	ResolutionOverride ResolutionStrategy = "override"
	// ResolutionModify retries the write with altered values.
	ResolutionModify ResolutionStrategy = "modify"
)

// Resolution is a suggested way out of a conflict. Only the fields relevant
// to its strategy are populated.
type Resolution struct {
	Strategy       ResolutionStrategy `json:"strategy"`
	TargetEntityID string             `json:"target_entity_id,omitempty"`
	FieldsToMerge  []string           `json:"fields_to_merge,omitempty"`
	ModifiedValues map[string]string  `json:"modified_values,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

// Conflict reports a tenant-wide identity collision. Value carries the raw
// input as supplied by the caller, not its normalized form, so the caller can
// echo it back verbatim.
type Conflict struct {
	Field                string       `json:"field"`
	Value                string       `json:"value"`
	ExistingEntityID     string       `json:"existing_entity_id"`
	ExistingEntityType   EntityType   `json:"existing_entity_type"`
	SuggestedResolutions []Resolution `json:"suggested_resolutions"`
}

// UniquenessConstraint records the current owner of one normalized identity
// value. At most one active constraint exists per (field, value) key per
// tenant; the space is shared across entity kinds.
type UniquenessConstraint struct {
	Field      string     `json:"field"`
	Value      string     `json:"value"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Verified   bool       `json:"verified"`
}
