package ledger

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/RichardRajuChirayath/Assure/pkg/batchhash"
)

// Memory is an in-process stand-in for the audit anchor contract.
type Memory struct {
	mu      sync.Mutex
	anchors []Proof
	Now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{Now: time.Now}
}

func (m *Memory) AnchorAudit(ctx context.Context, rootHash [32]byte, metadata string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uint64(len(m.anchors))
	m.anchors = append(m.anchors, Proof{RootHash: rootHash, Timestamp: m.Now().Unix(), Metadata: metadata})

	var buf [40]byte
	binary.BigEndian.PutUint64(buf[:8], id)
	copy(buf[8:], rootHash[:])
	return batchhash.Hex(batchhash.Keccak(buf[:])), nil
}

func (m *Memory) VerifyAnchor(ctx context.Context, id uint64) (Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id >= uint64(len(m.anchors)) {
		return Proof{}, ErrNotFound
	}
	return m.anchors[id], nil
}

func (m *Memory) AnchorCount(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.anchors)), nil
}
