package service

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/linhnguyen0702/contractledger/model"
)

// TxReceipt is the confirmation of a submitted ledger call.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64 // 1 = success, 0 = reverted
	GasUsed     uint64
	From        string
}

// Succeeded reports whether the transaction executed without reverting.
func (r *TxReceipt) Succeeded() bool { return r != nil && r.Status == 1 }

// CostEstimate is the predicted execution cost of a ledger call.
type CostEstimate struct {
	GasLimit uint64
	GasPrice *big.Int
	TotalWei *big.Int
}

// WithMargin returns the gas limit padded by pct percent.
func (e *CostEstimate) WithMargin(pct int) uint64 {
	return e.GasLimit * uint64(100+pct) / 100
}

// LedgerClient is the capability the sync adapter consumes. Two
// implementations share it: the custodial client holding the service key
// (EthLedgerClient) and the delegated client driving an external wallet
// (DelegatedClient). Implementations must serialize submissions per signing
// key: a signer has exactly one transaction in flight at a time.
type LedgerClient interface {
	// Submit signs and sends a state-changing call and waits for its
	// confirmation within the client's bounded confirmation window.
	Submit(ctx context.Context, fn string, args ...any) (*TxReceipt, error)
	// EstimateCost predicts the execution cost of a call without sending it.
	EstimateCost(ctx context.Context, fn string, args ...any) (*CostEstimate, error)
	// Read performs a read-only call and returns the unpacked outputs.
	Read(ctx context.Context, fn string, args ...any) ([]any, error)
	// Exists reports whether a contract with the business key is on-chain.
	Exists(ctx context.Context, contractNumber string) (bool, error)
	// Receipt fetches the receipt for a known transaction hash; it returns
	// (nil, nil) when the transaction is not yet mined.
	Receipt(ctx context.Context, txHash string) (*TxReceipt, error)
	// Network identifies the ledger this client talks to.
	Network() model.Network
	// ContractAddress is the deployed registry contract address.
	ContractAddress() string
}

// ErrUserRejected is returned by a wallet session when the human declines
// the transaction prompt.
var ErrUserRejected = errors.New("user rejected transaction")

// classifyLedgerError folds an arbitrary submission error into the ledger
// error taxonomy so callers handle a closed set of cases.
func classifyLedgerError(op string, err error) *model.LedgerError {
	code := model.LedgerNetwork
	switch {
	case errors.Is(err, ErrUserRejected):
		code = model.LedgerUserRejected
	case errors.Is(err, context.DeadlineExceeded):
		code = model.LedgerTimeout
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "insufficient funds"):
			code = model.LedgerInsufficientFunds
		case strings.Contains(msg, "revert"):
			code = model.LedgerRevert
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
			code = model.LedgerTimeout
		}
	}
	return &model.LedgerError{Code: code, Op: op, Err: err}
}

// isAlreadyExistsRevert matches the registry contract's duplicate-key revert
// so a repeated create can be treated as a no-op.
func isAlreadyExistsRevert(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// isDoesNotExistRevert matches the registry contract's missing-key revert.
func isDoesNotExistRevert(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}
