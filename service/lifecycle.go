package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linhnguyen0702/contractledger/model"
	"github.com/linhnguyen0702/contractledger/pkg/logger"
)

// Actor roles
const (
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// Actor identifies who performs a lifecycle operation.
type Actor struct {
	ID            string
	Name          string
	Role          string
	WalletAddress string
}

// Privileged reports whether the actor may approve, reject, activate or
// complete contracts.
func (a Actor) Privileged() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

// CreateRequest carries the fields needed to create a contract.
type CreateRequest struct {
	ContractNumber    string    `json:"contract_number" binding:"required"`
	ContractName      string    `json:"contract_name" binding:"required"`
	Contractor        string    `json:"contractor" binding:"required"`
	ContractValue     float64   `json:"contract_value"`
	Currency          string    `json:"currency"`
	StartDate         time.Time `json:"start_date" binding:"required"`
	EndDate           time.Time `json:"end_date" binding:"required"`
	ContractType      string    `json:"contract_type" binding:"required"`
	Department        string    `json:"department" binding:"required"`
	ResponsiblePerson string    `json:"responsible_person" binding:"required"`
	Description       string    `json:"description"`
	Status            model.Status `json:"status"` // draft (default) or pending
}

// UpdateRequest carries a partial update. Nil pointers mean "leave unchanged".
// Version is the version the caller read; a mismatch at write time is a
// conflict.
type UpdateRequest struct {
	ContractName      *string    `json:"contract_name"`
	Contractor        *string    `json:"contractor"`
	ContractValue     *float64   `json:"contract_value"`
	Currency          *string    `json:"currency"`
	StartDate         *time.Time `json:"start_date"`
	EndDate           *time.Time `json:"end_date"`
	ContractType      *string    `json:"contract_type"`
	Department        *string    `json:"department"`
	ResponsiblePerson *string    `json:"responsible_person"`
	Description       *string    `json:"description"`
	Version           int64      `json:"version" binding:"required"`
}

// Lifecycle implements the contract state machine. Every accepted mutation
// follows the same order: persist off-chain, mirror to the ledger on a best
// effort basis, then write the audit event unconditionally.
type Lifecycle struct {
	store ContractStore
	audit AuditSink
	sync  *SyncAdapter // nil when the ledger is disabled
}

func NewLifecycle(store ContractStore, audit AuditSink, sync *SyncAdapter) *Lifecycle {
	return &Lifecycle{store: store, audit: audit, sync: sync}
}

// Create persists a new contract in draft or pending status.
func (l *Lifecycle) Create(ctx context.Context, actor Actor, req CreateRequest) (*model.Contract, error) {
	status := req.Status
	if status == "" {
		status = model.StatusDraft
	}
	if status != model.StatusDraft && status != model.StatusPending {
		return nil, &model.ValidationError{Field: "status", Message: "new contracts must start as draft or pending"}
	}

	currency := req.Currency
	if currency == "" {
		currency = model.CurrencyVND
	}

	c := &model.Contract{
		ID:                uuid.New().String(),
		ContractNumber:    model.NormalizeContractNumber(req.ContractNumber),
		ContractName:      req.ContractName,
		Contractor:        req.Contractor,
		ContractValue:     req.ContractValue,
		Currency:          currency,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		ContractType:      req.ContractType,
		Status:            status,
		Department:        req.Department,
		ResponsiblePerson: req.ResponsiblePerson,
		Description:       req.Description,
		CreatedBy:         actor.Name,
		Version:           1,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.AppendHistory(model.ActionCreated, actor.Name, "", nil)

	if err := l.store.Create(ctx, c); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncCreate, Action: model.ActionCreated, Actor: actor.Name})
	l.record(ctx, actor, c, model.ActionCreated,
		fmt.Sprintf("Contract %s created with status %s", c.ContractNumber, c.Status), nil, nil)
	return c, nil
}

// Update applies a partial edit. Restricted fields are rejected once the
// contract is approved, active or completed.
func (l *Lifecycle) Update(ctx context.Context, actor Actor, id string, req UpdateRequest) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.canModify(actor, c); err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot update a %s contract", c.Status)}
	}

	changes, err := applyUpdate(c, req)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return c, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.AppendHistory(model.ActionUpdated, actor.Name, "", changes)

	if err := l.store.Update(ctx, c, req.Version); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncUpdate, Action: model.ActionUpdated, Actor: actor.Name})
	old, updated := auditValues(changes)
	l.record(ctx, actor, c, model.ActionUpdated,
		fmt.Sprintf("Contract %s updated", c.ContractNumber), old, updated)
	return c, nil
}

// applyUpdate mutates c from the non-nil request fields and returns the diff.
// Restricted fields are refused while the contract is locked; unrestricted
// fields in the same request still go through when only they changed.
func applyUpdate(c *model.Contract, req UpdateRequest) (map[string]model.FieldChange, error) {
	locked := c.FieldsLocked()
	changes := make(map[string]model.FieldChange)

	set := func(field string, restricted bool, from, to model.Value, apply func()) error {
		if from.Equal(to) {
			return nil
		}
		if restricted && locked {
			return &model.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s cannot change once the contract is %s", field, c.Status),
			}
		}
		changes[field] = model.FieldChange{From: from, To: to}
		apply()
		return nil
	}

	if req.ContractName != nil {
		if err := set("contract_name", false,
			model.StringValue(c.ContractName), model.StringValue(*req.ContractName),
			func() { c.ContractName = *req.ContractName }); err != nil {
			return nil, err
		}
	}
	if req.Contractor != nil {
		if err := set("contractor", true,
			model.StringValue(c.Contractor), model.StringValue(*req.Contractor),
			func() { c.Contractor = *req.Contractor }); err != nil {
			return nil, err
		}
	}
	if req.ContractValue != nil {
		if err := set("contract_value", true,
			model.NumberValue(c.ContractValue), model.NumberValue(*req.ContractValue),
			func() { c.ContractValue = *req.ContractValue }); err != nil {
			return nil, err
		}
	}
	if req.Currency != nil {
		if err := set("currency", false,
			model.StringValue(c.Currency), model.StringValue(*req.Currency),
			func() { c.Currency = *req.Currency }); err != nil {
			return nil, err
		}
	}
	if req.StartDate != nil {
		if err := set("start_date", true,
			model.DateValue(c.StartDate), model.DateValue(*req.StartDate),
			func() { c.StartDate = *req.StartDate }); err != nil {
			return nil, err
		}
	}
	if req.EndDate != nil {
		if err := set("end_date", true,
			model.DateValue(c.EndDate), model.DateValue(*req.EndDate),
			func() { c.EndDate = *req.EndDate }); err != nil {
			return nil, err
		}
	}
	if req.ContractType != nil {
		if err := set("contract_type", false,
			model.StringValue(c.ContractType), model.StringValue(*req.ContractType),
			func() { c.ContractType = *req.ContractType }); err != nil {
			return nil, err
		}
	}
	if req.Department != nil {
		if err := set("department", false,
			model.StringValue(c.Department), model.StringValue(*req.Department),
			func() { c.Department = *req.Department }); err != nil {
			return nil, err
		}
	}
	if req.ResponsiblePerson != nil {
		if err := set("responsible_person", false,
			model.StringValue(c.ResponsiblePerson), model.StringValue(*req.ResponsiblePerson),
			func() { c.ResponsiblePerson = *req.ResponsiblePerson }); err != nil {
			return nil, err
		}
	}
	if req.Description != nil {
		if err := set("description", false,
			model.StringValue(c.Description), model.StringValue(*req.Description),
			func() { c.Description = *req.Description }); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// Approve moves a pending contract to approved. A single approval completes
// the transition; the same manager cannot approve twice.
func (l *Lifecycle) Approve(ctx context.Context, actor Actor, id, comment string) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, &model.PermissionError{Actor: actor.Name, Message: "only managers can approve contracts"}
	}
	if c.Status != model.StatusPending {
		return nil, transitionError(c.Status, model.StatusApproved)
	}
	if c.HasApprovalBy(actor.Name) {
		return nil, &model.ValidationError{Field: "approved_by", Message: "contract already approved by this user"}
	}

	now := time.Now()
	version := c.Version
	c.Approvals = append(c.Approvals, model.Approval{ApprovedBy: actor.Name, ApprovedAt: now, Comment: comment})
	c.Status = model.StatusApproved
	c.ApprovedBy = actor.Name
	c.ApprovedAt = &now
	c.AppendHistory(model.ActionApproved, actor.Name, comment, statusChange(model.StatusPending, model.StatusApproved))

	if err := l.store.Update(ctx, c, version); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncStatusChange, Action: model.ActionApproved, Actor: actor.Name, Comment: comment})
	l.record(ctx, actor, c, model.ActionApproved,
		fmt.Sprintf("Contract %s approved", c.ContractNumber),
		map[string]any{"status": model.StatusPending}, map[string]any{"status": model.StatusApproved})
	return c, nil
}

// Reject moves a pending contract to rejected. A reason is required.
func (l *Lifecycle) Reject(ctx context.Context, actor Actor, id, reason string) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, &model.PermissionError{Actor: actor.Name, Message: "only managers can reject contracts"}
	}
	if c.Status != model.StatusPending {
		return nil, transitionError(c.Status, model.StatusRejected)
	}
	if reason == "" {
		return nil, &model.ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}

	now := time.Now()
	version := c.Version
	c.Status = model.StatusRejected
	c.RejectedBy = actor.Name
	c.RejectedAt = &now
	c.RejectReason = reason
	c.AppendHistory(model.ActionRejected, actor.Name, reason, statusChange(model.StatusPending, model.StatusRejected))

	if err := l.store.Update(ctx, c, version); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncStatusChange, Action: model.ActionRejected, Actor: actor.Name, Comment: reason})
	l.record(ctx, actor, c, model.ActionRejected,
		fmt.Sprintf("Contract %s rejected: %s", c.ContractNumber, reason),
		map[string]any{"status": model.StatusPending}, map[string]any{"status": model.StatusRejected})
	return c, nil
}

// Submit moves a draft contract to pending review.
func (l *Lifecycle) Submit(ctx context.Context, actor Actor, id string) (*model.Contract, error) {
	return l.changeStatus(ctx, actor, id, model.StatusDraft, model.StatusPending, model.ActionUpdated,
		"submitted for approval", false)
}

// Activate moves an approved contract to active.
func (l *Lifecycle) Activate(ctx context.Context, actor Actor, id string) (*model.Contract, error) {
	return l.changeStatus(ctx, actor, id, model.StatusApproved, model.StatusActive, model.ActionActivated,
		"contract activated", true)
}

// Complete moves an active contract to completed.
func (l *Lifecycle) Complete(ctx context.Context, actor Actor, id string) (*model.Contract, error) {
	return l.changeStatus(ctx, actor, id, model.StatusActive, model.StatusCompleted, model.ActionCompleted,
		"contract completed", true)
}

// Cancel moves any non-terminal contract to cancelled.
func (l *Lifecycle) Cancel(ctx context.Context, actor Actor, id, reason string) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Privileged() && c.CreatedBy != actor.Name {
		return nil, &model.PermissionError{Actor: actor.Name, Message: "not allowed to cancel this contract"}
	}
	if c.Status.IsTerminal() {
		return nil, transitionError(c.Status, model.StatusCancelled)
	}

	from := c.Status
	version := c.Version
	c.Status = model.StatusCancelled
	c.AppendHistory(model.ActionCancelled, actor.Name, reason, statusChange(from, model.StatusCancelled))

	if err := l.store.Update(ctx, c, version); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncStatusChange, Action: model.ActionCancelled, Actor: actor.Name, Comment: reason})
	l.record(ctx, actor, c, model.ActionCancelled,
		fmt.Sprintf("Contract %s cancelled", c.ContractNumber),
		map[string]any{"status": from}, map[string]any{"status": model.StatusCancelled})
	return c, nil
}

// Delete soft-deletes a contract. Only draft, pending and rejected contracts
// can be deleted, by their creator or an admin.
func (l *Lifecycle) Delete(ctx context.Context, actor Actor, id string) error {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != RoleAdmin && c.CreatedBy != actor.Name {
		return &model.PermissionError{Actor: actor.Name, Message: "not allowed to delete this contract"}
	}
	switch c.Status {
	case model.StatusDraft, model.StatusPending, model.StatusRejected:
	default:
		return &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot delete a %s contract", c.Status)}
	}

	from := c.Status
	version := c.Version
	c.Status = model.StatusDeleted
	c.AppendHistory(model.ActionDeleted, actor.Name, "", statusChange(from, model.StatusDeleted))

	if err := l.store.Update(ctx, c, version); err != nil {
		return err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncStatusChange, Action: model.ActionDeleted, Actor: actor.Name})
	l.record(ctx, actor, c, model.ActionDeleted,
		fmt.Sprintf("Contract %s deleted", c.ContractNumber),
		map[string]any{"status": from}, map[string]any{"status": model.StatusDeleted})
	return nil
}

func (l *Lifecycle) changeStatus(ctx context.Context, actor Actor, id string, from, to model.Status, action, description string, privileged bool) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if privileged && !actor.Privileged() {
		return nil, &model.PermissionError{Actor: actor.Name, Message: fmt.Sprintf("only managers can mark contracts %s", to)}
	}
	if !privileged && !actor.Privileged() && c.CreatedBy != actor.Name {
		return nil, &model.PermissionError{Actor: actor.Name, Message: "not allowed to modify this contract"}
	}
	if c.Status != from {
		return nil, transitionError(c.Status, to)
	}

	version := c.Version
	c.Status = to
	c.AppendHistory(action, actor.Name, description, statusChange(from, to))

	if err := l.store.Update(ctx, c, version); err != nil {
		return nil, err
	}

	l.mirror(ctx, c, SyncRequest{Op: SyncStatusChange, Action: action, Actor: actor.Name})
	l.record(ctx, actor, c, action,
		fmt.Sprintf("Contract %s: %s", c.ContractNumber, description),
		map[string]any{"status": from}, map[string]any{"status": to})
	return c, nil
}

// Get returns one contract by ID.
func (l *Lifecycle) Get(ctx context.Context, id string) (*model.Contract, error) {
	return l.store.Get(ctx, id)
}

// GetByNumber returns one contract by its business key.
func (l *Lifecycle) GetByNumber(ctx context.Context, number string) (*model.Contract, error) {
	return l.store.GetByNumber(ctx, number)
}

// List returns a filtered page of contracts and the unpaged total.
func (l *Lifecycle) List(ctx context.Context, f ContractFilter) ([]model.Contract, int64, error) {
	return l.store.List(ctx, f)
}

// Stats aggregates counts and value over non-deleted contracts.
func (l *Lifecycle) Stats(ctx context.Context, expiringWithin time.Duration) (*ContractStats, error) {
	return l.store.Stats(ctx, expiringWithin)
}

// VerifyMirror re-checks the last recorded transaction against the ledger and
// persists the refreshed confirmation flag.
func (l *Lifecycle) VerifyMirror(ctx context.Context, id string) (*model.Contract, bool, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if l.sync == nil || c.Ledger == nil || c.Ledger.TxHash == "" {
		return c, false, nil
	}
	ok, err := l.sync.Verify(ctx, c.Ledger.TxHash, c.ContractNumber)
	if err != nil {
		return nil, false, err
	}
	if c.Ledger.Confirmed != ok {
		version := c.Version
		c.Ledger.Confirmed = ok
		if err := l.store.Update(ctx, c, version); err != nil {
			return nil, false, err
		}
	}
	return c, ok, nil
}

// AddAttachment links an uploaded file to a contract.
func (l *Lifecycle) AddAttachment(ctx context.Context, actor Actor, id string, att model.Attachment) (*model.Contract, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.canModify(actor, c); err != nil {
		return nil, err
	}

	version := c.Version
	c.Attachments = append(c.Attachments, att)
	if err := l.store.Update(ctx, c, version); err != nil {
		return nil, err
	}

	l.record(ctx, actor, c, model.ActionUpdated,
		fmt.Sprintf("Attachment %s added to contract %s", att.OriginalName, c.ContractNumber), nil,
		map[string]any{"attachment": att.ObjectName})
	return c, nil
}

// PrepareUpdate runs every off-chain check for an update without persisting
// anything: load, permission, restricted-field lock and validation. The
// delegated signing flow calls it before the wallet prompt so a rejected
// transaction leaves no trace.
func (l *Lifecycle) PrepareUpdate(ctx context.Context, actor Actor, id string, req UpdateRequest) (*model.Contract, map[string]model.FieldChange, error) {
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := l.canModify(actor, c); err != nil {
		return nil, nil, err
	}
	if c.Status.IsTerminal() {
		return nil, nil, &model.ValidationError{Field: "status", Message: fmt.Sprintf("cannot update a %s contract", c.Status)}
	}
	changes, err := applyUpdate(c, req)
	if err != nil {
		return nil, nil, err
	}
	if len(changes) > 0 {
		if err := c.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return c, changes, nil
}

// CommitUpdateWithProof persists an already-validated contract whose ledger
// call the owner's wallet has executed. Used by the delegated signing flow,
// where nothing is persisted until the on-chain submission succeeded.
func (l *Lifecycle) CommitUpdateWithProof(ctx context.Context, actor Actor, c *model.Contract, expectedVersion int64, changes map[string]model.FieldChange, proof *LedgerProof) (*model.Contract, error) {
	c.AppendHistory(model.ActionUpdated, actor.Name, "", changes)
	ApplyProof(c, proof)

	if err := l.store.Update(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	old, updated := auditValues(changes)
	l.record(ctx, actor, c, model.ActionUpdated,
		fmt.Sprintf("Contract %s updated via wallet", c.ContractNumber), old, updated)
	return c, nil
}

func (l *Lifecycle) canModify(actor Actor, c *model.Contract) error {
	if actor.Privileged() || c.CreatedBy == actor.Name {
		return nil
	}
	return &model.PermissionError{Actor: actor.Name, Message: "not allowed to modify this contract"}
}

// mirror runs the ledger synchronization on a best-effort basis. A failure is
// logged with its classification and never reaches the caller.
func (l *Lifecycle) mirror(ctx context.Context, c *model.Contract, req SyncRequest) {
	if l.sync == nil {
		return
	}
	res := l.sync.Sync(ctx, c, req)
	if res.OK() {
		if res.Proof != nil {
			logger.Info(ctx, "ledger sync succeeded",
				"contract_number", c.ContractNumber,
				"action", req.Action,
				"tx_hash", res.Proof.TxHash,
				"block_number", res.Proof.BlockNumber)
			// Proof landed on the in-memory record after the main write; it is
			// not lost on failure here, only re-synced on the next mutation.
			if err := l.store.Update(ctx, c, c.Version); err != nil {
				logger.Warn(ctx, "failed to persist ledger proof",
					"contract_number", c.ContractNumber, "error", err)
			}
		}
		return
	}
	logger.Warn(ctx, "ledger sync failed, contract saved off-chain only",
		"contract_number", c.ContractNumber,
		"action", req.Action,
		"code", res.Err.Code,
		"error", res.Err.Error())
}

func (l *Lifecycle) record(ctx context.Context, actor Actor, c *model.Contract, action, description string, old, updated map[string]any) {
	_, err := l.audit.Record(ctx, model.AuditEvent{
		Type:         model.AuditTypeContract,
		Action:       action,
		Description:  description,
		PerformedBy:  actor.Name,
		PerformedAt:  time.Now(),
		ResourceID:   c.ID,
		ResourceType: "contract",
		OldValues:    old,
		NewValues:    updated,
	})
	if err != nil {
		logger.Error(ctx, "failed to record audit event",
			"contract_number", c.ContractNumber, "action", action, "error", err)
	}
}

func transitionError(from, to model.Status) error {
	return &model.ValidationError{
		Field:   "status",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func statusChange(from, to model.Status) map[string]model.FieldChange {
	return map[string]model.FieldChange{
		"status": {From: model.StringValue(string(from)), To: model.StringValue(string(to))},
	}
}

func auditValues(changes map[string]model.FieldChange) (old, updated map[string]any) {
	if len(changes) == 0 {
		return nil, nil
	}
	old = make(map[string]any, len(changes))
	updated = make(map[string]any, len(changes))
	for field, ch := range changes {
		old[field] = valueAny(ch.From)
		updated[field] = valueAny(ch.To)
	}
	return old, updated
}

func valueAny(v model.Value) any {
	switch v.Kind {
	case model.KindNumber:
		return v.Num
	case model.KindDate:
		return v.Date
	case model.KindBool:
		return v.Bool
	default:
		return v.Str
	}
}
