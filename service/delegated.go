package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/linhnguyen0702/contractledger/model"
	"github.com/linhnguyen0702/contractledger/pkg/logger"
)

// ChainParams describes the network a wallet must be on before signing.
type ChainParams struct {
	ChainID  *big.Int
	Name     string
	RPCURL   string
	Currency string
}

// TxProposal is one state-changing call offered to a wallet for consent.
// The session encodes and signs it with the owner's key; the service never
// sees that key.
type TxProposal struct {
	Fn       string
	Args     []any
	GasLimit uint64
}

// WalletSession is an external signing session driven by the contract owner.
// Implementations return ErrUserRejected when the owner declines a prompt.
type WalletSession interface {
	// Connect establishes the session and returns the signing address.
	Connect(ctx context.Context) (string, error)
	// ChainID reports the network the session is currently on.
	ChainID(ctx context.Context) (*big.Int, error)
	// SwitchChain asks the wallet to move to the given network.
	SwitchChain(ctx context.Context, chainID *big.Int) error
	// AddChain registers an unknown network with the wallet.
	AddChain(ctx context.Context, params ChainParams) error
	// SignAndSend signs the proposal with the owner's key, submits it and
	// waits for the receipt.
	SignAndSend(ctx context.Context, proposal TxProposal) (*TxReceipt, error)
}

// ErrChainUnknown is returned by SwitchChain when the wallet has no entry
// for the requested network yet.
var ErrChainUnknown = errors.New("unrecognized chain")

// minGasMarginPct is the floor applied to every delegated submission.
const minGasMarginPct = 20

// DelegatedSigner submits registry calls through the owner's wallet instead
// of the service key. Reads and cost estimates still go through the custodial
// client; only the signature is delegated.
type DelegatedSigner struct {
	wallet       WalletSession
	reader       LedgerClient
	chain        ChainParams
	gasMarginPct int
}

func NewDelegatedSigner(wallet WalletSession, reader LedgerClient, chain ChainParams, gasMarginPct int) *DelegatedSigner {
	if gasMarginPct < minGasMarginPct {
		gasMarginPct = minGasMarginPct
	}
	return &DelegatedSigner{wallet: wallet, reader: reader, chain: chain, gasMarginPct: gasMarginPct}
}

// Execute runs the full consent flow for one registry call: ensure the
// wallet is on the right network, check the signing address, estimate cost
// with margin, then hand the proposal to the wallet. Any failure, including
// the owner declining, aborts with a classified ledger error.
func (s *DelegatedSigner) Execute(ctx context.Context, registeredAddress, fn string, args ...any) (*LedgerProof, error) {
	if err := s.ensureNetwork(ctx); err != nil {
		return nil, classifyLedgerError("switchChain", err)
	}

	addr, err := s.wallet.Connect(ctx)
	if err != nil {
		return nil, classifyLedgerError("connect", err)
	}
	if registeredAddress != "" && !strings.EqualFold(addr, registeredAddress) {
		// Warn only: a user may legitimately sign from a new wallet.
		logger.Warn(ctx, "wallet address differs from registered address",
			"connected", addr, "registered", registeredAddress)
	}

	est, err := s.reader.EstimateCost(ctx, fn, args...)
	if err != nil {
		return nil, classifyLedgerError("estimateGas", err)
	}

	receipt, err := s.wallet.SignAndSend(ctx, TxProposal{
		Fn:       fn,
		Args:     args,
		GasLimit: est.WithMargin(s.gasMarginPct),
	})
	if err != nil {
		return nil, classifyLedgerError(fn, err)
	}
	if !receipt.Succeeded() {
		return nil, classifyLedgerError(fn, fmt.Errorf("transaction %s reverted", receipt.TxHash))
	}

	return &LedgerProof{
		TxHash:          receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		ContractAddress: s.reader.ContractAddress(),
		Network:         s.reader.Network(),
	}, nil
}

func (s *DelegatedSigner) ensureNetwork(ctx context.Context) error {
	current, err := s.wallet.ChainID(ctx)
	if err != nil {
		return err
	}
	if current.Cmp(s.chain.ChainID) == 0 {
		return nil
	}
	if err := s.wallet.SwitchChain(ctx, s.chain.ChainID); err == nil {
		return nil
	}
	// The wallet does not know the network yet; register it and retry.
	if err := s.wallet.AddChain(ctx, s.chain); err != nil {
		return err
	}
	return s.wallet.SwitchChain(ctx, s.chain.ChainID)
}

// DelegatedFlow is the fail-closed update path: nothing is persisted
// off-chain until the owner's wallet has executed the matching ledger call.
type DelegatedFlow struct {
	lifecycle *Lifecycle
	signer    *DelegatedSigner
}

func NewDelegatedFlow(lifecycle *Lifecycle, signer *DelegatedSigner) *DelegatedFlow {
	return &DelegatedFlow{lifecycle: lifecycle, signer: signer}
}

// Update edits a contract with the owner signing the ledger call. The edit is
// validated first, then submitted through the wallet, and only committed
// off-chain once the transaction confirmed. A declined prompt or any ledger
// failure leaves the contract untouched.
func (f *DelegatedFlow) Update(ctx context.Context, actor Actor, id string, req UpdateRequest) (*model.Contract, error) {
	c, changes, err := f.lifecycle.PrepareUpdate(ctx, actor, id, req)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return c, nil
	}

	fn := "updateContract"
	exists, err := f.signer.reader.Exists(ctx, c.ContractNumber)
	if err != nil {
		return nil, classifyLedgerError("exists", err)
	}
	if !exists {
		logger.Warn(ctx, "contract missing on ledger, wallet will create it",
			"contract_number", c.ContractNumber)
		fn = "createContract"
	}

	proof, err := f.signer.Execute(ctx, actor.WalletAddress, fn, updateArgs(c)...)
	if err != nil {
		return nil, err
	}

	return f.lifecycle.CommitUpdateWithProof(ctx, actor, c, req.Version, changes, proof)
}
