package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/RichardRajuChirayath/Assure/pkg/batchhash"
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

type failingChain struct {
	anchorCalls int
}

func (f *failingChain) AnchorAudit(ctx context.Context, rootHash [32]byte, metadata string) (string, error) {
	f.anchorCalls++
	return "", errors.New("out of gas")
}

func (f *failingChain) VerifyAnchor(ctx context.Context, id uint64) (Proof, error) {
	return Proof{}, errors.New("rpc down")
}

func (f *failingChain) AnchorCount(ctx context.Context) (uint64, error) {
	return 0, errors.New("rpc down")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigConfiguredRequiresAllThree(t *testing.T) {
	full := Config{ContractAddress: "0xabc", RPCURL: "http://rpc", PrivateKey: "0x01"}
	if !full.Configured() {
		t.Fatalf("expected configured")
	}
	partial := Config{ContractAddress: "0xabc", RPCURL: "http://rpc"}
	if partial.Configured() {
		t.Fatalf("expected partial config to count as unconfigured")
	}
}

func TestAnchorUnconfiguredSimulates(t *testing.T) {
	a := NewAnchorer(nil, 0, quietLogger())
	r := a.Anchor(context.Background(), batchhash.Keccak([]byte("x")), "Batch of 1 audit logs")
	if !r.Simulated {
		t.Fatalf("expected simulated receipt")
	}
	if !txHashRe.MatchString(r.TxHash) {
		t.Fatalf("unexpected tx hash %q", r.TxHash)
	}
}

func TestAnchorChainFailureSimulatesAfterDelay(t *testing.T) {
	chain := &failingChain{}
	a := NewAnchorer(chain, 20*time.Millisecond, quietLogger())
	start := time.Now()
	r := a.Anchor(context.Background(), batchhash.Keccak([]byte("x")), "Batch of 1 audit logs")
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected artificial delay, returned after %s", elapsed)
	}
	if chain.anchorCalls != 1 || !r.Simulated || !txHashRe.MatchString(r.TxHash) {
		t.Fatalf("unexpected receipt %+v calls=%d", r, chain.anchorCalls)
	}
}

func TestAnchorAndVerifyRoundTripOnMemoryChain(t *testing.T) {
	mem := NewMemory()
	mem.Now = func() time.Time { return time.Unix(1700000000, 0) }
	a := NewAnchorer(mem, time.Hour, quietLogger())

	first := batchhash.Keccak([]byte("batch-0"))
	second := batchhash.Keccak([]byte("batch-1"))
	r0 := a.Anchor(context.Background(), first, "Batch of 2 audit logs")
	r1 := a.Anchor(context.Background(), second, "Batch of 1 audit logs")
	if r0.Simulated || r1.Simulated {
		t.Fatalf("expected real receipts from memory chain")
	}
	if r0.TxHash == r1.TxHash || !txHashRe.MatchString(r0.TxHash) {
		t.Fatalf("unexpected tx hashes %s %s", r0.TxHash, r1.TxHash)
	}

	p, err := a.Verify(context.Background(), 1)
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if p.RootHash != second || p.Metadata != "Batch of 1 audit logs" || p.Timestamp != 1700000000 {
		t.Fatalf("unexpected proof %+v", p)
	}
}

func TestVerifyOutOfRangeIsNotFound(t *testing.T) {
	a := NewAnchorer(NewMemory(), 0, quietLogger())
	if _, err := a.Verify(context.Background(), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVerifyUnconfiguredOrFailingIsNotFound(t *testing.T) {
	if _, err := NewAnchorer(nil, 0, quietLogger()).Verify(context.Background(), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without chain, got %v", err)
	}
	if _, err := NewAnchorer(&failingChain{}, 0, quietLogger()).Verify(context.Background(), 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on rpc failure, got %v", err)
	}
}

func TestParseABI(t *testing.T) {
	parsed, err := ParseABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	for _, m := range []string{"anchorAudit", "verifyAnchor", "anchorCount"} {
		if _, ok := parsed.Methods[m]; !ok {
			t.Fatalf("missing method %s", m)
		}
	}
	if _, ok := parsed.Events["AuditAnchored"]; !ok {
		t.Fatalf("missing AuditAnchored event")
	}
}

func TestDialEVMRequiresConfig(t *testing.T) {
	_, err := DialEVM(context.Background(), Config{RPCURL: "http://127.0.0.1:1"}, quietLogger())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
