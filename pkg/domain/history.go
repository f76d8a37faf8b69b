package domain

import "time"

// HistoryEntry is one immutable line of the audit trail. Entries are appended
// for every mutation that reaches the data layer and are never edited or
// deleted afterwards; the checksum covers the canonical serialization of the
// mutation payload.
type HistoryEntry struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	EntityType    EntityType     `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Operation     Operation      `json:"operation"`
	UserID        string         `json:"user_id"`
	UserName      string         `json:"user_name,omitempty"`
	UserRole      Role           `json:"user_role,omitempty"`
	ChangedFields []string       `json:"changed_fields"`
	BeforeData    map[string]any `json:"before_data,omitempty"`
	AfterData     map[string]any `json:"after_data,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Checksum      string         `json:"checksum"`
	CreatedAt     time.Time      `json:"created_at"`
}

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	EntityType EntityType
	EntityID   string
	UserID     string
	Operation  Operation
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Matches reports whether the entry satisfies every set filter field.
func (f HistoryFilter) Matches(e HistoryEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Since != nil && e.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}
