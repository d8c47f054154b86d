package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/linhnguyen0702/contractledger/model"
	"github.com/linhnguyen0702/contractledger/pkg/logger"
)

// SyncOperation names the kind of lifecycle event being mirrored.
type SyncOperation string

const (
	SyncCreate       SyncOperation = "create"
	SyncUpdate       SyncOperation = "update"
	SyncStatusChange SyncOperation = "statusChange"
)

// SyncRequest describes one mirroring attempt.
type SyncRequest struct {
	Op SyncOperation
	// Action, Actor and Comment qualify a statusChange (approved, rejected,
	// activated, completed, cancelled).
	Action  string
	Actor   string
	Comment string
}

// LedgerProof is the identifier tuple of a confirmed ledger submission.
type LedgerProof struct {
	TxHash          string        `json:"tx_hash"`
	BlockNumber     uint64        `json:"block_number"`
	ContractAddress string        `json:"contract_address"`
	Network         model.Network `json:"network"`
}

// SyncResult is the explicit non-fatal outcome of a sync attempt. Err is a
// classified LedgerError; callers decide whether it is terminal (delegated
// mode) or a warning (custodial mode). Proof is nil for idempotent no-ops.
type SyncResult struct {
	Proof *LedgerProof
	Err   *model.LedgerError
}

// OK reports whether the mirror attempt succeeded (possibly as a no-op).
func (r SyncResult) OK() bool { return r.Err == nil }

// SyncAdapter keeps the ledger a best-effort mirror of accepted contract
// transitions. It never blocks or reverts the off-chain commit; every
// failure comes back as a classified result value.
type SyncAdapter struct {
	client LedgerClient
}

func NewSyncAdapter(client LedgerClient) *SyncAdapter {
	return &SyncAdapter{client: client}
}

// Sync translates a lifecycle event into the matching registry call,
// reconciling on-chain existence first so a record whose earlier create
// never landed is created rather than orphaned.
func (a *SyncAdapter) Sync(ctx context.Context, c *model.Contract, req SyncRequest) SyncResult {
	switch req.Op {
	case SyncCreate:
		return a.syncCreate(ctx, c)
	case SyncUpdate, SyncStatusChange:
		exists, err := a.client.Exists(ctx, c.ContractNumber)
		if err != nil {
			return SyncResult{Err: classifyLedgerError("exists", err)}
		}
		if !exists {
			logger.Warn(ctx, "contract missing on ledger, creating before sync",
				"contract_number", c.ContractNumber, "op", string(req.Op))
			res := a.syncCreate(ctx, c)
			if !res.OK() || req.Op == SyncUpdate {
				// For updates the create already carried the full record.
				return res
			}
			// Status changes still need their own call once the record exists.
		}
		if req.Op == SyncUpdate {
			return a.submit(ctx, c, "updateContract", updateArgs(c)...)
		}
		return a.syncStatus(ctx, c, req)
	default:
		return SyncResult{Err: classifyLedgerError(string(req.Op), fmt.Errorf("unknown sync operation %q", req.Op))}
	}
}

func (a *SyncAdapter) syncCreate(ctx context.Context, c *model.Contract) SyncResult {
	res := a.submit(ctx, c, "createContract", updateArgs(c)...)
	if res.Err != nil && res.Err.Code == model.LedgerRevert && isAlreadyExistsRevert(res.Err.Err) {
		// The record already landed in an earlier attempt; success-no-op.
		logger.Info(ctx, "ledger create was a no-op, record already exists",
			"contract_number", c.ContractNumber)
		touchMirror(c)
		return SyncResult{}
	}
	return res
}

func (a *SyncAdapter) syncStatus(ctx context.Context, c *model.Contract, req SyncRequest) SyncResult {
	switch req.Action {
	case model.ActionApproved:
		return a.submit(ctx, c, "approveContract", c.ContractNumber, req.Actor, req.Comment)
	case model.ActionRejected:
		return a.submit(ctx, c, "rejectContract", c.ContractNumber, req.Actor, req.Comment)
	default:
		return a.submit(ctx, c, "updateContractStatus", c.ContractNumber, string(c.Status), req.Comment)
	}
}

func (a *SyncAdapter) submit(ctx context.Context, c *model.Contract, fn string, args ...any) SyncResult {
	receipt, err := a.client.Submit(ctx, fn, args...)
	if err != nil {
		return SyncResult{Err: classifyLedgerError(fn, err)}
	}
	proof := &LedgerProof{
		TxHash:          receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		ContractAddress: a.client.ContractAddress(),
		Network:         a.client.Network(),
	}
	ApplyProof(c, proof)
	return SyncResult{Proof: proof}
}

// Verify confirms a prior submission out-of-band: the receipt must exist
// with success status and the record must be readable on-chain. Used when
// the original submission path could not wait long enough.
func (a *SyncAdapter) Verify(ctx context.Context, txHash, contractNumber string) (bool, error) {
	receipt, err := a.client.Receipt(ctx, txHash)
	if err != nil {
		return false, classifyLedgerError("receipt", err)
	}
	if !receipt.Succeeded() {
		return false, nil
	}
	exists, err := a.client.Exists(ctx, contractNumber)
	if err != nil {
		return false, classifyLedgerError("exists", err)
	}
	return exists, nil
}

// ApplyProof records a confirmed submission on the contract's mirror,
// creating the mirror on first sync and only advancing its sync metadata
// afterwards.
func ApplyProof(c *model.Contract, proof *LedgerProof) {
	now := time.Now()
	if c.Ledger == nil {
		c.Ledger = &model.LedgerMirror{
			ContractAddress: proof.ContractAddress,
			Network:         proof.Network,
			CreatedOnChain:  now,
		}
	}
	c.Ledger.TxHash = proof.TxHash
	c.Ledger.BlockNumber = proof.BlockNumber
	c.Ledger.LastSyncedAt = now
	c.Ledger.Confirmed = true
}

func touchMirror(c *model.Contract) {
	if c.Ledger != nil {
		c.Ledger.LastSyncedAt = time.Now()
	}
}

// updateArgs flattens a contract into the registry's create/update argument
// list: amounts as 18-decimal fixed point, dates as unix seconds.
func updateArgs(c *model.Contract) []any {
	return []any{
		c.ContractNumber,
		c.ContractName,
		c.Contractor,
		ledgerUnits(c.ContractValue),
		c.Currency,
		big.NewInt(c.StartDate.Unix()),
		big.NewInt(c.EndDate.Unix()),
		c.ContractType,
		c.Department,
		c.ResponsiblePerson,
	}
}

// ledgerUnits maps a decimal currency amount 1:1 onto the ledger's
// 18-decimal fixed-point unit regardless of currency code. Known modeling
// shortcut: a scaled-integer or oracle conversion replaces this function
// without touching the rest of the adapter.
func ledgerUnits(amount float64) *big.Int {
	scaled, _ := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e18)).Int(nil)
	return scaled
}
