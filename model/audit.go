package model

import "time"

// Audit event types
const (
	AuditTypeContract = "contract"
	AuditTypeUser     = "user"
	AuditTypeSecurity = "security"
	AuditTypeSystem   = "system"
)

// AuditEvent is one system-wide, append-only audit record. It is written for
// every accepted lifecycle transition regardless of ledger outcome.
type AuditEvent struct {
	ID           string         `json:"id" gorm:"primaryKey"`
	Type         string         `json:"type" gorm:"index:idx_audit_type_action"`
	Action       string         `json:"action" gorm:"index:idx_audit_type_action"`
	Description  string         `json:"description"`
	Details      string         `json:"details,omitempty"`
	PerformedBy  string         `json:"performed_by" gorm:"index"`
	PerformedAt  time.Time      `json:"performed_at" gorm:"index"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty" gorm:"index"`
	ResourceType string         `json:"resource_type,omitempty"`
	OldValues    map[string]any `json:"old_values,omitempty" gorm:"serializer:json"`
	NewValues    map[string]any `json:"new_values,omitempty" gorm:"serializer:json"`
}

func (AuditEvent) TableName() string { return "audit_logs" }

// AuditFilter narrows an audit query. Zero values mean "no constraint".
type AuditFilter struct {
	Page        int
	Limit       int
	Type        string
	Action      string
	PerformedBy string
	From        time.Time
	To          time.Time
}

// AuditPage is one page of audit results plus the unpaged total.
type AuditPage struct {
	Items      []AuditEvent `json:"items"`
	TotalCount int64        `json:"total_count"`
	Page       int          `json:"page"`
	Limit      int          `json:"limit"`
}
