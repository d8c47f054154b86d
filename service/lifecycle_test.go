package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linhnguyen0702/contractledger/model"
)

var (
	staff   = Actor{ID: "jane", Name: "Jane Doe", Role: RoleStaff}
	manager = Actor{ID: "m1", Name: "Manager One", Role: RoleManager}
	admin   = Actor{ID: "root", Name: "Admin", Role: RoleAdmin}
)

func newTestLifecycle(client LedgerClient) (*Lifecycle, *MemoryStore, *MemoryAuditSink) {
	store := NewMemoryStore()
	sink := NewMemoryAuditSink()
	var adapter *SyncAdapter
	if client != nil {
		adapter = NewSyncAdapter(client)
	}
	return NewLifecycle(store, sink, adapter), store, sink
}

func createReq(status model.Status) CreateRequest {
	return CreateRequest{
		ContractNumber:    "hd2024001",
		ContractName:      "Office renovation",
		Contractor:        "ACME Construction",
		ContractValue:     100,
		Currency:          model.CurrencyVND,
		StartDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:           time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		ContractType:      model.TypeConstruction,
		Department:        "Facilities",
		ResponsiblePerson: "Jane Doe",
		Status:            status,
	}
}

func TestCreateDefaultsToDraft(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)

	c, err := lc.Create(context.Background(), staff, createReq(""))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if c.Status != model.StatusDraft {
		t.Errorf("Expected draft, got %s", c.Status)
	}
	if c.ContractNumber != "HD2024001" {
		t.Errorf("Expected normalized number HD2024001, got %s", c.ContractNumber)
	}
	if c.CreatedBy != "Jane Doe" {
		t.Errorf("Expected creator Jane Doe, got %s", c.CreatedBy)
	}
	if len(c.History) != 1 || c.History[0].Action != model.ActionCreated {
		t.Error("Expected a single created history entry")
	}
}

func TestCreateRejectsInvalidInitialStatus(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)

	_, err := lc.Create(context.Background(), staff, createReq(model.StatusApproved))
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestCreateRejectsBadDates(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)

	req := createReq("")
	req.EndDate = req.StartDate.Add(-24 * time.Hour)
	_, err := lc.Create(context.Background(), staff, req)
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	if _, err := lc.Create(ctx, staff, createReq("")); err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	// Same number, different case.
	req := createReq("")
	req.ContractNumber = "HD2024001"
	_, err := lc.Create(ctx, staff, req)
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error for duplicate, got %v", err)
	}
}

func TestApprovalScenario(t *testing.T) {
	client := newFakeLedgerClient()
	client.existsResult = true
	lc, _, sink := newTestLifecycle(client)
	ctx := context.Background()

	c, err := lc.Create(ctx, staff, createReq(model.StatusPending))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}

	approved, err := lc.Approve(ctx, manager, c.ID, "looks good")
	if err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}
	if approved.Status != model.StatusApproved {
		t.Errorf("Expected approved, got %s", approved.Status)
	}
	if approved.ApprovedBy != "Manager One" {
		t.Errorf("Expected approver Manager One, got %s", approved.ApprovedBy)
	}
	if approved.ApprovedAt == nil {
		t.Error("Expected ApprovedAt to be set")
	}
	if len(approved.Approvals) != 1 {
		t.Errorf("Expected 1 approval, got %d", len(approved.Approvals))
	}

	last := approved.History[len(approved.History)-1]
	if last.Action != model.ActionApproved || last.Comment != "looks good" {
		t.Errorf("Expected approved history entry with comment, got %+v", last)
	}

	if approved.Ledger == nil || !approved.Ledger.Confirmed {
		t.Error("Expected a confirmed ledger mirror")
	}

	page, _ := sink.Query(ctx, model.AuditFilter{Action: model.ActionApproved})
	if page.TotalCount != 1 {
		t.Errorf("Expected 1 approval audit event, got %d", page.TotalCount)
	}
}

func TestApproveRequiresManager(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	_, err := lc.Approve(ctx, staff, c.ID, "")
	if !model.IsPermission(err) {
		t.Errorf("Expected permission error, got %v", err)
	}
}

func TestApproveRejectsDuplicateApprover(t *testing.T) {
	lc, store, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))

	// Seed a prior approval without completing the transition.
	stored, _ := store.Get(ctx, c.ID)
	stored.Approvals = append(stored.Approvals, model.Approval{ApprovedBy: "Manager One", ApprovedAt: time.Now()})
	if err := store.Update(ctx, stored, stored.Version); err != nil {
		t.Fatalf("Failed to seed approval: %v", err)
	}

	_, err := lc.Approve(ctx, manager, c.ID, "")
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error for duplicate approver, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	if _, err := lc.Reject(ctx, manager, c.ID, ""); !model.IsValidation(err) {
		t.Errorf("Expected validation error for empty reason, got %v", err)
	}

	rejected, err := lc.Reject(ctx, manager, c.ID, "budget exceeded")
	if err != nil {
		t.Fatalf("Failed to reject: %v", err)
	}
	if rejected.Status != model.StatusRejected {
		t.Errorf("Expected rejected, got %s", rejected.Status)
	}
	if rejected.RejectReason != "budget exceeded" {
		t.Errorf("Expected reason preserved, got %q", rejected.RejectReason)
	}
	if rejected.RejectedAt == nil || rejected.RejectedBy != "Manager One" {
		t.Error("Expected rejection metadata to be set")
	}
}

func TestInvalidTransitions(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		from model.Status
		op   func(id string) error
	}{
		{"approve draft", model.StatusDraft, func(id string) error {
			_, err := lc.Approve(ctx, manager, id, "")
			return err
		}},
		{"reject draft", model.StatusDraft, func(id string) error {
			_, err := lc.Reject(ctx, manager, id, "nope")
			return err
		}},
		{"activate draft", model.StatusDraft, func(id string) error {
			_, err := lc.Activate(ctx, manager, id)
			return err
		}},
		{"complete pending", model.StatusPending, func(id string) error {
			_, err := lc.Complete(ctx, manager, id)
			return err
		}},
		{"submit pending", model.StatusPending, func(id string) error {
			_, err := lc.Submit(ctx, staff, id)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createReq(tt.from)
			req.ContractNumber = "tx-" + tt.name
			c, err := lc.Create(ctx, staff, req)
			if err != nil {
				t.Fatalf("Failed to create: %v", err)
			}
			if err := tt.op(c.ID); !model.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestRejectAfterApprove(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	c, err := lc.Approve(ctx, manager, c.ID, "")
	if err != nil {
		t.Fatalf("Failed to approve: %v", err)
	}

	if _, err := lc.Reject(ctx, manager, c.ID, "changed my mind"); !model.IsValidation(err) {
		t.Errorf("Expected validation error rejecting approved contract, got %v", err)
	}

	got, _ := lc.Get(ctx, c.ID)
	if got.Status != model.StatusApproved {
		t.Errorf("Expected contract still approved, got %s", got.Status)
	}
	if got.RejectedBy != "" {
		t.Error("Expected no rejection recorded")
	}
}

func TestFullLifecycle(t *testing.T) {
	lc, _, sink := newTestLifecycle(nil)
	ctx := context.Background()

	c, err := lc.Create(ctx, staff, createReq(""))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c, err = lc.Submit(ctx, staff, c.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c, err = lc.Approve(ctx, manager, c.ID, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if c, err = lc.Activate(ctx, manager, c.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if c, err = lc.Complete(ctx, manager, c.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Status != model.StatusCompleted {
		t.Errorf("Expected completed, got %s", c.Status)
	}
	if len(c.History) != 5 {
		t.Errorf("Expected 5 history entries, got %d", len(c.History))
	}

	page, _ := sink.Query(ctx, model.AuditFilter{Type: model.AuditTypeContract})
	if page.TotalCount != 5 {
		t.Errorf("Expected 5 audit events, got %d", page.TotalCount)
	}

	// Terminal status admits nothing further.
	if _, err := lc.Cancel(ctx, manager, c.ID, "too late"); !model.IsValidation(err) {
		t.Errorf("Expected validation error cancelling completed, got %v", err)
	}
}

func TestUpdateRestrictedFields(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	c, _ = lc.Approve(ctx, manager, c.ID, "")

	// contract_value is locked once approved.
	newValue := 999.0
	_, err := lc.Update(ctx, staff, c.ID, UpdateRequest{ContractValue: &newValue, Version: c.Version})
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error for locked field, got %v", err)
	}

	// Unrestricted fields still go through.
	dept := "Legal"
	desc := "moved to legal review"
	updated, err := lc.Update(ctx, staff, c.ID, UpdateRequest{
		Department:  &dept,
		Description: &desc,
		Version:     c.Version,
	})
	if err != nil {
		t.Fatalf("Expected unrestricted update to succeed, got %v", err)
	}
	if updated.Department != "Legal" || updated.Description != "moved to legal review" {
		t.Error("Expected unrestricted fields to be updated")
	}
	if updated.ContractValue != 100 {
		t.Errorf("Expected value unchanged, got %f", updated.ContractValue)
	}

	last := updated.History[len(updated.History)-1]
	if _, ok := last.Changes["department"]; !ok {
		t.Error("Expected department change recorded in history")
	}
}

func TestUpdateUnchangedRestrictedFieldIsNotAViolation(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	c, _ = lc.Approve(ctx, manager, c.ID, "")

	// Echoing the current value back is a no-op, not a locked-field edit.
	sameValue := c.ContractValue
	updated, err := lc.Update(ctx, staff, c.ID, UpdateRequest{ContractValue: &sameValue, Version: c.Version})
	if err != nil {
		t.Fatalf("Expected no-op update to succeed, got %v", err)
	}
	if updated.Version != c.Version {
		t.Error("Expected no version bump for a no-op update")
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(""))

	name1 := "first edit"
	if _, err := lc.Update(ctx, staff, c.ID, UpdateRequest{ContractName: &name1, Version: c.Version}); err != nil {
		t.Fatalf("First update failed: %v", err)
	}

	name2 := "second edit"
	_, err := lc.Update(ctx, staff, c.ID, UpdateRequest{ContractName: &name2, Version: c.Version})
	if !model.IsConflict(err) {
		t.Errorf("Expected conflict for stale version, got %v", err)
	}
}

func TestUpdateRejectsBadDateOrder(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(""))
	badEnd := c.StartDate.Add(-24 * time.Hour)
	_, err := lc.Update(ctx, staff, c.ID, UpdateRequest{EndDate: &badEnd, Version: c.Version})
	if !model.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestUpdatePermissions(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	c, _ := lc.Create(ctx, staff, createReq(""))

	other := Actor{ID: "bob", Name: "Bob", Role: RoleStaff}
	name := "bob's edit"
	_, err := lc.Update(ctx, other, c.ID, UpdateRequest{ContractName: &name, Version: c.Version})
	if !model.IsPermission(err) {
		t.Errorf("Expected permission error for non-owner, got %v", err)
	}

	// Managers may edit anyone's contract.
	if _, err := lc.Update(ctx, manager, c.ID, UpdateRequest{ContractName: &name, Version: c.Version}); err != nil {
		t.Errorf("Expected manager update to succeed, got %v", err)
	}
}

func TestCustodialSyncFailureIsSwallowed(t *testing.T) {
	client := newFakeLedgerClient()
	client.submitErr["*"] = errors.New("connection refused")
	client.existsErr = errors.New("connection refused")
	lc, _, sink := newTestLifecycle(client)
	ctx := context.Background()

	c, err := lc.Create(ctx, staff, createReq(model.StatusPending))
	if err != nil {
		t.Fatalf("Expected create to succeed despite ledger failure, got %v", err)
	}
	if c.Ledger != nil {
		t.Error("Expected no mirror after failed sync")
	}

	// The transition still succeeds and still gets audited.
	approved, err := lc.Approve(ctx, manager, c.ID, "")
	if err != nil {
		t.Fatalf("Expected approve to succeed despite ledger failure, got %v", err)
	}
	if approved.Status != model.StatusApproved {
		t.Errorf("Expected approved, got %s", approved.Status)
	}

	page, _ := sink.Query(ctx, model.AuditFilter{})
	if page.TotalCount != 2 {
		t.Errorf("Expected 2 audit events, got %d", page.TotalCount)
	}
}

func TestDeleteGuards(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	// Active contracts cannot be deleted.
	c, _ := lc.Create(ctx, staff, createReq(model.StatusPending))
	c, _ = lc.Approve(ctx, manager, c.ID, "")
	c, _ = lc.Activate(ctx, manager, c.ID)
	if err := lc.Delete(ctx, admin, c.ID); !model.IsValidation(err) {
		t.Errorf("Expected validation error deleting active contract, got %v", err)
	}

	// Only the creator or an admin may delete.
	req := createReq("")
	req.ContractNumber = "HD2024002"
	d, _ := lc.Create(ctx, staff, req)
	other := Actor{ID: "bob", Name: "Bob", Role: RoleStaff}
	if err := lc.Delete(ctx, other, d.ID); !model.IsPermission(err) {
		t.Errorf("Expected permission error, got %v", err)
	}
	if err := lc.Delete(ctx, staff, d.ID); err != nil {
		t.Fatalf("Expected creator delete to succeed, got %v", err)
	}

	got, err := lc.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Expected soft-deleted contract to remain readable, got %v", err)
	}
	if got.Status != model.StatusDeleted {
		t.Errorf("Expected deleted status, got %s", got.Status)
	}

	// Deleted contracts disappear from default listings.
	_, total, _ := lc.List(ctx, ContractFilter{Search: "HD2024002"})
	if total != 0 {
		t.Errorf("Expected deleted contract hidden from list, got %d", total)
	}
}

func TestCancelFromAnyOpenStatus(t *testing.T) {
	lc, _, _ := newTestLifecycle(nil)
	ctx := context.Background()

	for i, status := range []model.Status{model.StatusDraft, model.StatusPending} {
		req := createReq(status)
		req.ContractNumber = "HDC" + string(rune('0'+i))
		c, err := lc.Create(ctx, staff, req)
		if err != nil {
			t.Fatalf("Failed to create: %v", err)
		}
		cancelled, err := lc.Cancel(ctx, staff, c.ID, "scope changed")
		if err != nil {
			t.Fatalf("Failed to cancel from %s: %v", status, err)
		}
		if cancelled.Status != model.StatusCancelled {
			t.Errorf("Expected cancelled, got %s", cancelled.Status)
		}
	}
}

func TestVerifyMirror(t *testing.T) {
	client := newFakeLedgerClient()
	client.existsResult = true
	lc, _, _ := newTestLifecycle(client)
	ctx := context.Background()

	c, err := lc.Create(ctx, staff, createReq(""))
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	if c.Ledger == nil {
		t.Fatal("Expected a mirror after create")
	}

	client.receipt = &TxReceipt{TxHash: c.Ledger.TxHash, BlockNumber: c.Ledger.BlockNumber, Status: 1}
	_, verified, err := lc.VerifyMirror(ctx, c.ID)
	if err != nil {
		t.Fatalf("Failed to verify: %v", err)
	}
	if !verified {
		t.Error("Expected mirror to verify")
	}
}
