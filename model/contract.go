package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDeleted   Status = "deleted"
)

// IsTerminal reports whether no further transition may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected,
		StatusActive, StatusCompleted, StatusCancelled, StatusDeleted:
		return true
	}
	return false
}

// Action names for history and audit entries.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
	ActionActivated = "activated"
	ActionCompleted = "completed"
	ActionCancelled = "cancelled"
	ActionDeleted   = "deleted"
)

// Contract type enum
const (
	TypeConstruction = "construction"
	TypeSupply       = "supply"
	TypeService      = "service"
	TypeConsulting   = "consulting"
)

// Currency enum
const (
	CurrencyVND = "VND"
	CurrencyUSD = "USD"
	CurrencyEUR = "EUR"
)

// Network identifies the ledger a mirror lives on.
type Network string

const (
	NetworkLocal   Network = "local"
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// ValueKind tags the type carried by a Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindNumber ValueKind = "number"
	KindDate   ValueKind = "date"
	KindBool   ValueKind = "bool"
)

// Value is a tagged union for field-change diffs, replacing the untyped
// key->{from,to} blobs the on-record history would otherwise carry.
type Value struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Date time.Time `json:"date,omitempty"`
	Bool bool      `json:"bool,omitempty"`
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func DateValue(t time.Time) Value { return Value{Kind: KindDate, Date: t} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// Equal compares two values of the same kind.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num
	case KindDate:
		return v.Date.Equal(o.Date)
	case KindBool:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

// FieldChange records one field's before/after pair.
type FieldChange struct {
	From Value `json:"from"`
	To   Value `json:"to"`
}

// HistoryEntry is an immutable, append-only record of a contract mutation.
// It lives inside the contract record itself, distinct from the system-wide
// audit log.
type HistoryEntry struct {
	Action      string                 `json:"action"`
	PerformedBy string                 `json:"performed_by"`
	PerformedAt time.Time              `json:"performed_at"`
	Comment     string                 `json:"comment,omitempty"`
	Changes     map[string]FieldChange `json:"changes,omitempty"`
}

// Approval is one entry in the extensible approvals collection. The current
// transition table completes on a single approval; the slice stays a list so
// a quorum rule can be added without a schema change.
type Approval struct {
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
	Comment    string    `json:"comment,omitempty"`
}

// Attachment is a file stored in object storage and linked to a contract.
type Attachment struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	ObjectName   string    `json:"object_name"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// LedgerMirror is the proof that lifecycle events were mirrored on-chain.
// Absent until the first successful synchronization. Once present only the
// latest tx hash/block, LastSyncedAt and the Confirmed flag change.
type LedgerMirror struct {
	TxHash          string    `json:"tx_hash" gorm:"column:tx_hash"`
	BlockNumber     uint64    `json:"block_number" gorm:"column:block_number"`
	ContractAddress string    `json:"contract_address" gorm:"column:contract_address"`
	Network         Network   `json:"network" gorm:"column:network"`
	CreatedOnChain  time.Time `json:"created_on_chain" gorm:"column:created_on_chain"`
	LastSyncedAt    time.Time `json:"last_synced_at" gorm:"column:last_synced_at"`
	Confirmed       bool      `json:"confirmed" gorm:"column:confirmed"`
}

// Contract is the authoritative off-chain record.
type Contract struct {
	ID                string         `json:"id" gorm:"primaryKey"`
	ContractNumber    string         `json:"contract_number" gorm:"uniqueIndex;not null"`
	ContractName      string         `json:"contract_name" gorm:"not null"`
	Contractor        string         `json:"contractor" gorm:"not null"`
	ContractValue     float64        `json:"contract_value" gorm:"type:decimal(18,2)"`
	Currency          string         `json:"currency"`
	StartDate         time.Time      `json:"start_date"`
	EndDate           time.Time      `json:"end_date"`
	ContractType      string         `json:"contract_type"`
	Status            Status         `json:"status" gorm:"index"`
	Department        string         `json:"department"`
	ResponsiblePerson string         `json:"responsible_person"`
	Description       string         `json:"description,omitempty"`
	CreatedBy         string         `json:"created_by" gorm:"index"`
	Approvals         []Approval     `json:"approvals" gorm:"serializer:json"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty"`
	RejectedBy        string         `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time     `json:"rejected_at,omitempty"`
	RejectReason      string         `json:"reject_reason,omitempty"`
	Attachments       []Attachment   `json:"attachments" gorm:"serializer:json"`
	Version           int64          `json:"version"`
	Ledger            *LedgerMirror  `json:"ledger,omitempty" gorm:"embedded;embeddedPrefix:ledger_"`
	History           []HistoryEntry `json:"history" gorm:"serializer:json"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }

// NormalizeContractNumber upper-cases and trims a business key.
func NormalizeContractNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// restrictedFields cannot change once a contract is approved, active or
// completed.
var restrictedFields = []string{"contract_value", "start_date", "end_date", "contractor"}

// FieldsLocked reports whether the restricted field set is immutable for the
// current status.
func (c *Contract) FieldsLocked() bool {
	switch c.Status {
	case StatusApproved, StatusActive, StatusCompleted:
		return true
	}
	return false
}

// RestrictedFields returns the names of the fields locked by FieldsLocked.
func RestrictedFields() []string {
	out := make([]string, len(restrictedFields))
	copy(out, restrictedFields)
	return out
}

// Validate checks the invariants that must hold before any persistence.
func (c *Contract) Validate() error {
	if strings.TrimSpace(c.ContractNumber) == "" {
		return &ValidationError{Field: "contract_number", Message: "contract number is required"}
	}
	if strings.TrimSpace(c.ContractName) == "" {
		return &ValidationError{Field: "contract_name", Message: "contract name is required"}
	}
	if strings.TrimSpace(c.Contractor) == "" {
		return &ValidationError{Field: "contractor", Message: "contractor is required"}
	}
	if c.ContractValue < 0 {
		return &ValidationError{Field: "contract_value", Message: "contract value cannot be negative"}
	}
	switch c.Currency {
	case CurrencyVND, CurrencyUSD, CurrencyEUR:
	default:
		return &ValidationError{Field: "currency", Message: fmt.Sprintf("unsupported currency %q", c.Currency)}
	}
	switch c.ContractType {
	case TypeConstruction, TypeSupply, TypeService, TypeConsulting:
	default:
		return &ValidationError{Field: "contract_type", Message: fmt.Sprintf("unsupported contract type %q", c.ContractType)}
	}
	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		return &ValidationError{Field: "start_date", Message: "start and end dates are required"}
	}
	if !c.EndDate.After(c.StartDate) {
		return &ValidationError{Field: "end_date", Message: "end date must be after start date"}
	}
	if strings.TrimSpace(c.Department) == "" {
		return &ValidationError{Field: "department", Message: "department is required"}
	}
	if strings.TrimSpace(c.ResponsiblePerson) == "" {
		return &ValidationError{Field: "responsible_person", Message: "responsible person is required"}
	}
	if !c.Status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", c.Status)}
	}
	return nil
}

// AppendHistory adds an immutable history entry.
func (c *Contract) AppendHistory(action, actor, comment string, changes map[string]FieldChange) {
	c.History = append(c.History, HistoryEntry{
		Action:      action,
		PerformedBy: actor,
		PerformedAt: time.Now(),
		Comment:     comment,
		Changes:     changes,
	})
}

// HasApprovalBy reports whether the actor already approved this contract.
func (c *Contract) HasApprovalBy(actor string) bool {
	for _, a := range c.Approvals {
		if a.ApprovedBy == actor {
			return true
		}
	}
	return false
}
