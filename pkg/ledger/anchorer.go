package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
)

const DefaultSimulatedDelay = 1500 * time.Millisecond

type Anchorer struct {
	// Chain is nil when ledger credentials are absent.
	Chain          Chain
	SimulatedDelay time.Duration
	Logger         *slog.Logger
}

func NewAnchorer(chain Chain, simulatedDelay time.Duration, logger *slog.Logger) *Anchorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Anchorer{Chain: chain, SimulatedDelay: simulatedDelay, Logger: logger}
}

func (a *Anchorer) Configured() bool { return a.Chain != nil }

// Anchor submits the fingerprint and never fails: any chain problem yields a
// simulated receipt after SimulatedDelay.
func (a *Anchorer) Anchor(ctx context.Context, rootHash [32]byte, metadata string) Receipt {
	if a.Chain == nil {
		a.Logger.Warn("ledger credentials not configured, simulating anchor", "metadata", metadata)
		return a.Simulate(ctx)
	}
	txHash, err := a.Chain.AnchorAudit(ctx, rootHash, metadata)
	if err != nil {
		a.Logger.Error("ledger anchoring failed, simulating anchor", "metadata", metadata, "error", err)
		return a.Simulate(ctx)
	}
	a.Logger.Info("audit batch anchored", "tx_hash", txHash, "metadata", metadata)
	return Receipt{TxHash: txHash}
}

// Simulate waits out the confirmation delay (or ctx) and returns a synthetic
// 0x-prefixed 32-byte transaction id.
func (a *Anchorer) Simulate(ctx context.Context) Receipt {
	if a.SimulatedDelay > 0 {
		t := time.NewTimer(a.SimulatedDelay)
		select {
		case <-ctx.Done():
		case <-t.C:
		}
		t.Stop()
	}
	return Receipt{TxHash: SimulatedTxHash(), Simulated: true}
}

// Verify reads anchor index back from the chain. Every failure maps to ErrNotFound.
func (a *Anchorer) Verify(ctx context.Context, index uint64) (Proof, error) {
	if a.Chain == nil {
		return Proof{}, ErrNotFound
	}
	count, err := a.Chain.AnchorCount(ctx)
	if err != nil {
		a.Logger.Error("ledger anchor count failed", "error", err)
		return Proof{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if index >= count {
		return Proof{}, ErrNotFound
	}
	p, err := a.Chain.VerifyAnchor(ctx, index)
	if err != nil {
		a.Logger.Error("ledger verification failed", "index", index, "error", err)
		return Proof{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return p, nil
}

func SimulatedTxHash() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "0x" + hex.EncodeToString(b[:])
}
