package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/linhnguyen0702/contractledger/config"
	"github.com/linhnguyen0702/contractledger/model"
)

// registryABI is the subset of the on-chain contract registry this service
// calls. The registry keys every record by its business contract number.
const registryABI = `[
  {"type":"function","name":"createContract","stateMutability":"nonpayable","inputs":[
    {"name":"contractNumber","type":"string"},{"name":"contractName","type":"string"},
    {"name":"contractor","type":"string"},{"name":"contractValue","type":"uint256"},
    {"name":"currency","type":"string"},{"name":"startDate","type":"uint256"},
    {"name":"endDate","type":"uint256"},{"name":"contractType","type":"string"},
    {"name":"department","type":"string"},{"name":"responsiblePerson","type":"string"}],"outputs":[]},
  {"type":"function","name":"updateContract","stateMutability":"nonpayable","inputs":[
    {"name":"contractNumber","type":"string"},{"name":"contractName","type":"string"},
    {"name":"contractor","type":"string"},{"name":"contractValue","type":"uint256"},
    {"name":"currency","type":"string"},{"name":"startDate","type":"uint256"},
    {"name":"endDate","type":"uint256"},{"name":"contractType","type":"string"},
    {"name":"department","type":"string"},{"name":"responsiblePerson","type":"string"}],"outputs":[]},
  {"type":"function","name":"updateContractStatus","stateMutability":"nonpayable","inputs":[
    {"name":"contractNumber","type":"string"},{"name":"newStatus","type":"string"},
    {"name":"remarks","type":"string"}],"outputs":[]},
  {"type":"function","name":"approveContract","stateMutability":"nonpayable","inputs":[
    {"name":"contractNumber","type":"string"},{"name":"approverName","type":"string"},
    {"name":"comment","type":"string"}],"outputs":[]},
  {"type":"function","name":"rejectContract","stateMutability":"nonpayable","inputs":[
    {"name":"contractNumber","type":"string"},{"name":"rejectorName","type":"string"},
    {"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"doesContractExist","stateMutability":"view","inputs":[
    {"name":"contractNumber","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getContractCount","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint256"}]}
]`

// EthLedgerClient is the custodial LedgerClient: it holds the service's own
// signing key and submits calls without per-action human consent. It is
// constructed once and injected; there is no package-level instance.
type EthLedgerClient struct {
	client   *ethclient.Client
	abi      abi.ABI
	address  common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID   *big.Int
	network   model.Network
	confirms  time.Duration
	gasMargin int

	// mu serializes nonce assignment and submission. The signer's ordering
	// counter allows exactly one in-flight transaction, and concurrent
	// lifecycle operations for different contracts share this signer.
	mu sync.Mutex
}

// NewEthLedgerClient dials the RPC endpoint and prepares the signing key.
func NewEthLedgerClient(cfg *config.LedgerConfig) (*EthLedgerClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("ledger rpc_url is not configured")
	}
	if cfg.ContractAddress == "" {
		return nil, fmt.Errorf("ledger contract_address is not configured")
	}

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("invalid ledger private key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	if !common.IsHexAddress(cfg.ContractAddress) {
		client.Close()
		return nil, fmt.Errorf("invalid ledger contract address %q", cfg.ContractAddress)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		chainID, err = client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to query chain id: %w", err)
		}
	}

	return &EthLedgerClient{
		client:    client,
		abi:       parsed,
		address:   common.HexToAddress(cfg.ContractAddress),
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:   chainID,
		network:   networkFromConfig(cfg.Network),
		confirms:  time.Duration(cfg.ConfirmTimeout) * time.Second,
		gasMargin: cfg.GasMarginPct,
	}, nil
}

func networkFromConfig(name string) model.Network {
	switch name {
	case "local", "localhost":
		return model.NetworkLocal
	case "mainnet":
		return model.NetworkMainnet
	default:
		return model.NetworkTestnet
	}
}

// HealthCheck verifies the RPC connection and reports the signer balance.
func (c *EthLedgerClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ledger health check failed: %w", err)
	}
	return nil
}

// SignerBalance returns the custodial key's balance in wei.
func (c *EthLedgerClient) SignerBalance(ctx context.Context) (*big.Int, error) {
	return c.client.BalanceAt(ctx, c.from, nil)
}

// Close releases the RPC connection.
func (c *EthLedgerClient) Close() {
	c.client.Close()
}

func (c *EthLedgerClient) Network() model.Network  { return c.network }
func (c *EthLedgerClient) ContractAddress() string { return c.address.Hex() }

// Submit packs, signs, sends and awaits one registry call. The submission
// lock is held until the transaction is mined so the nonce counter never
// has more than one transaction advancing it.
func (c *EthLedgerClient) Submit(ctx context.Context, fn string, args ...any) (*TxReceipt, error) {
	data, err := c.abi.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", fn, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.client.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.address,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas for %s: %w", fn, err)
	}

	estimate := CostEstimate{GasLimit: gasLimit}
	tx := types.NewTransaction(nonce, c.address, big.NewInt(0), estimate.WithMargin(c.gasMargin), gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", fn, err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", fn, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirms)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.client, signed)
	if err != nil {
		return nil, fmt.Errorf("confirmation wait for %s failed: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted in block %d", signed.Hash().Hex(), receipt.BlockNumber.Uint64())
	}

	return &TxReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Status:      receipt.Status,
		GasUsed:     receipt.GasUsed,
		From:        c.from.Hex(),
	}, nil
}

// EstimateCost predicts gas usage and price for a registry call.
func (c *EthLedgerClient) EstimateCost(ctx context.Context, fn string, args ...any) (*CostEstimate, error) {
	data, err := c.abi.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", fn, err)
	}
	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &c.address,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas for %s: %w", fn, err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return &CostEstimate{
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		TotalWei: new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice),
	}, nil
}

// Read executes a view call and unpacks the outputs.
func (c *EthLedgerClient) Read(ctx context.Context, fn string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", fn, err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", fn, err)
	}
	values, err := c.abi.Unpack(fn, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", fn, err)
	}
	return values, nil
}

// Exists checks the registry for the business key.
func (c *EthLedgerClient) Exists(ctx context.Context, contractNumber string) (bool, error) {
	values, err := c.Read(ctx, "doesContractExist", contractNumber)
	if err != nil {
		if isDoesNotExistRevert(err) {
			return false, nil
		}
		return false, err
	}
	if len(values) != 1 {
		return false, fmt.Errorf("unexpected doesContractExist result arity %d", len(values))
	}
	exists, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected doesContractExist result type %T", values[0])
	}
	return exists, nil
}

// Receipt fetches the receipt for txHash, returning (nil, nil) while the
// transaction is still unmined.
func (c *EthLedgerClient) Receipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch receipt %s: %w", txHash, err)
	}
	return &TxReceipt{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		Status:      receipt.Status,
		GasUsed:     receipt.GasUsed,
	}, nil
}
