// Package ledger anchors audit batch fingerprints on an EVM smart contract
// and reads them back. Anchoring is fail-open: when the chain is unconfigured
// or a submission fails, the Anchorer substitutes a simulated transaction id.
package ledger

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("ledger: anchor not found")

// Chain is the contract surface: anchorAudit, verifyAnchor and anchorCount.
type Chain interface {
	AnchorAudit(ctx context.Context, rootHash [32]byte, metadata string) (txHash string, err error)
	VerifyAnchor(ctx context.Context, id uint64) (Proof, error)
	AnchorCount(ctx context.Context) (uint64, error)
}

type Proof struct {
	RootHash  [32]byte
	Timestamp int64
	Metadata  string
}

type Receipt struct {
	TxHash    string
	Simulated bool
}

type Config struct {
	ContractAddress string
	RPCURL          string
	PrivateKey      string
}

// Configured is true only when all three credentials are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.ContractAddress) != "" &&
		strings.TrimSpace(c.RPCURL) != "" &&
		strings.TrimSpace(c.PrivateKey) != ""
}
