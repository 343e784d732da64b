// Package anchor seals unsealed risk events into audit entries and anchors
// each batch fingerprint on the ledger.
package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RichardRajuChirayath/Assure/pkg/batchhash"
	"github.com/RichardRajuChirayath/Assure/pkg/db"
	"github.com/RichardRajuChirayath/Assure/pkg/ledger"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

const DefaultBatchSize = 50

const MessageNothingToAnchor = "No events to anchor."

type Store interface {
	ClaimUnsealed(ctx context.Context, limit int) ([]store.AuditEntry, error)
	SetTxHash(ctx context.Context, entryIDs []string, txHash string) (int64, error)
	ListUnanchored(ctx context.Context, limit int) ([]store.AuditEntry, error)
}

type Anchorer interface {
	Anchor(ctx context.Context, rootHash [32]byte, metadata string) ledger.Receipt
}

type Observer interface {
	ObserveAnchorPass(count int, simulated bool)
}

type Result struct {
	Message   string `json:"message"`
	Count     int    `json:"count"`
	RootHash  string `json:"rootHash,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Simulated bool   `json:"simulated"`
}

type Routine struct {
	Store     Store
	Anchorer  Anchorer
	BatchSize int
	Backoff   *db.Backoff
	Logger    *slog.Logger
	Observer  Observer

	// mu keeps Run and Rescue from interleaving inside one process.
	mu sync.Mutex
}

func (r *Routine) Run(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	entries, err := db.RetryValue(ctx, r.Backoff, "claim unsealed events", func(ctx context.Context) ([]store.AuditEntry, error) {
		return r.Store.ClaimUnsealed(ctx, size)
	})
	if err != nil {
		return Result{}, fmt.Errorf("claim unsealed events: %w", err)
	}
	if len(entries) == 0 {
		return Result{Message: MessageNothingToAnchor}, nil
	}
	res, err := r.seal(ctx, entries, fmt.Sprintf("Batch of %d audit logs", len(entries)))
	if err != nil {
		return Result{}, err
	}
	res.Message = fmt.Sprintf("Anchored %d logs. TX: %s", res.Count, res.TxHash)
	return res, nil
}

// Rescue anchors entries left without a transaction id, for example after a
// crash between claiming and attaching the hash.
func (r *Routine) Rescue(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	entries, err := db.RetryValue(ctx, r.Backoff, "list unanchored entries", func(ctx context.Context) ([]store.AuditEntry, error) {
		return r.Store.ListUnanchored(ctx, size)
	})
	if err != nil {
		return Result{}, fmt.Errorf("list unanchored entries: %w", err)
	}
	if len(entries) == 0 {
		return Result{Message: "No unanchored audit logs."}, nil
	}
	res, err := r.seal(ctx, entries, fmt.Sprintf("Rescue batch of %d audit logs", len(entries)))
	if err != nil {
		return Result{}, err
	}
	res.Message = fmt.Sprintf("Rescued %d logs. TX: %s", res.Count, res.TxHash)
	return res, nil
}

func (r *Routine) seal(ctx context.Context, entries []store.AuditEntry, metadata string) (Result, error) {
	records := make([]batchhash.Record, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		records[i] = Record(e)
		ids[i] = e.ID
	}
	root := batchhash.Sum(records)
	receipt := r.Anchorer.Anchor(ctx, root, metadata)
	if receipt.TxHash == "" {
		return Result{}, fmt.Errorf("anchor returned an empty transaction id")
	}

	updated, err := db.RetryValue(ctx, r.Backoff, "attach tx hash", func(ctx context.Context) (int64, error) {
		return r.Store.SetTxHash(ctx, ids, receipt.TxHash)
	})
	if err != nil {
		return Result{}, fmt.Errorf("attach tx hash %s: %w", receipt.TxHash, err)
	}
	if r.Observer != nil {
		r.Observer.ObserveAnchorPass(len(entries), receipt.Simulated)
	}
	r.logger().Info("audit batch anchored",
		"count", len(entries),
		"updated", updated,
		"root_hash", batchhash.Hex(root),
		"tx_hash", receipt.TxHash,
		"simulated", receipt.Simulated,
	)
	return Result{
		Count:     len(entries),
		RootHash:  batchhash.Hex(root),
		TxHash:    receipt.TxHash,
		Simulated: receipt.Simulated,
	}, nil
}

func (r *Routine) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Record is the hashed view of an audit entry.
func Record(e store.AuditEntry) batchhash.Record {
	return batchhash.Record{ID: e.ID, Event: e.Event, CreatedAt: batchhash.Timestamp(e.CreatedAt)}
}

// Fingerprint recomputes the root hash of entries given in insertion order.
func Fingerprint(entries []store.AuditEntry) [32]byte {
	records := make([]batchhash.Record, len(entries))
	for i, e := range entries {
		records[i] = Record(e)
	}
	return batchhash.Sum(records)
}

