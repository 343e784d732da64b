package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// AuditAnchorABI is the minimal ABI of the audit anchor contract.
const AuditAnchorABI = `[
  {"type":"function","name":"anchorAudit","stateMutability":"nonpayable",
   "inputs":[{"name":"_rootHash","type":"bytes32"},{"name":"_metadata","type":"string"}],"outputs":[]},
  {"type":"function","name":"verifyAnchor","stateMutability":"view",
   "inputs":[{"name":"_id","type":"uint256"}],
   "outputs":[{"name":"","type":"bytes32"},{"name":"","type":"uint256"},{"name":"","type":"string"}]},
  {"type":"function","name":"anchorCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"AuditAnchored","anonymous":false,
   "inputs":[{"name":"id","type":"uint256","indexed":true},
             {"name":"rootHash","type":"bytes32","indexed":true},
             {"name":"timestamp","type":"uint256","indexed":false}]}
]`

var ErrNotConfigured = errors.New("ledger: contract address, rpc url and private key are required")

// EVM anchors through a deployed audit anchor contract over JSON-RPC.
type EVM struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	logger   *slog.Logger
}

type auditAnchored struct {
	Id        *big.Int
	RootHash  [32]byte
	Timestamp *big.Int
}

func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(AuditAnchorABI))
}

// DialEVM connects to the RPC endpoint once; the returned client is reused
// for the life of the process.
func DialEVM(ctx context.Context, cfg Config, logger *slog.Logger) (*EVM, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("ledger: invalid private key: %w", err)
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ledger: chain id: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	address := common.HexToAddress(cfg.ContractAddress)
	return &EVM{
		client:   client,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
		address:  address,
		key:      key,
		chainID:  chainID,
		logger:   logger,
	}, nil
}

func (e *EVM) Close() { e.client.Close() }

func (e *EVM) Address() string { return e.address.Hex() }

func (e *EVM) AnchorAudit(ctx context.Context, rootHash [32]byte, metadata string) (string, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(e.key, e.chainID)
	if err != nil {
		return "", err
	}
	opts.Context = ctx
	tx, err := e.contract.Transact(opts, "anchorAudit", rootHash, metadata)
	if err != nil {
		return "", fmt.Errorf("anchorAudit: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("anchor tx %s reverted", tx.Hash().Hex())
	}
	for _, lg := range receipt.Logs {
		var ev auditAnchored
		if err := e.contract.UnpackLog(&ev, "AuditAnchored", *lg); err != nil {
			continue
		}
		e.logger.Info("audit anchor event", "anchor_id", ev.Id.String(), "tx_hash", receipt.TxHash.Hex())
	}
	return receipt.TxHash.Hex(), nil
}

func (e *EVM) VerifyAnchor(ctx context.Context, id uint64) (Proof, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifyAnchor", new(big.Int).SetUint64(id)); err != nil {
		return Proof{}, fmt.Errorf("verifyAnchor(%d): %w", id, err)
	}
	if len(out) != 3 {
		return Proof{}, fmt.Errorf("verifyAnchor(%d): unexpected %d outputs", id, len(out))
	}
	root := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	ts := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	meta := *abi.ConvertType(out[2], new(string)).(*string)
	return Proof{RootHash: root, Timestamp: ts.Int64(), Metadata: meta}, nil
}

func (e *EVM) AnchorCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "anchorCount"); err != nil {
		return 0, fmt.Errorf("anchorCount: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("anchorCount: unexpected %d outputs", len(out))
	}
	n := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	return n.Uint64(), nil
}
