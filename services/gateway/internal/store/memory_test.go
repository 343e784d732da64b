package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestMemory() *Memory {
	m := NewMemory()
	clock := &stepClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.Now = clock.Now
	return m
}

func TestInsertRiskEventClampsAndFillsDefaults(t *testing.T) {
	m := newTestMemory()
	ev, err := m.InsertRiskEvent(context.Background(), RiskEvent{ActionType: "DEPLOY", RiskScore: 140, Verdict: VerdictBlocked})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if ev.ID == "" || ev.CreatedAt.IsZero() || ev.Context == nil {
		t.Fatalf("expected defaults to be filled: %+v", ev)
	}
	if ev.RiskScore != 100 {
		t.Fatalf("expected score clamped to 100, got %v", ev.RiskScore)
	}
}

func TestClaimUnsealedNewestFirstAndOnce(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	for _, a := range []string{"A", "B", "C"} {
		if _, err := m.InsertRiskEvent(ctx, RiskEvent{ActionType: a, RiskScore: 10, Verdict: VerdictAllowed, Reasoning: []string{"ok", "low"}}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	claimed, err := m.ClaimUnsealed(ctx, 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 || claimed[0].Event != "ALLOWED: C" || claimed[1].Event != "ALLOWED: B" {
		t.Fatalf("unexpected claim %+v", claimed)
	}
	if claimed[0].Details != "ok | low" {
		t.Fatalf("unexpected details %q", claimed[0].Details)
	}
	if !claimed[0].CreatedAt.Before(claimed[1].CreatedAt) {
		t.Fatalf("expected increasing entry timestamps")
	}
	rest, _ := m.ClaimUnsealed(ctx, 50)
	if len(rest) != 1 || rest[0].Event != "ALLOWED: A" {
		t.Fatalf("unexpected second claim %+v", rest)
	}
	none, _ := m.ClaimUnsealed(ctx, 50)
	if len(none) != 0 {
		t.Fatalf("expected nothing left to claim, got %d", len(none))
	}
}

func TestClaimUnsealedConcurrentNeverDuplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for i := 0; i < 40; i++ {
		_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "X", Verdict: VerdictBlocked})
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.ClaimUnsealed(ctx, 7)
		}()
	}
	wg.Wait()
	seen := map[string]bool{}
	all, _ := m.ListUnanchored(ctx, 1000)
	for _, e := range all {
		if seen[e.RiskEventID] {
			t.Fatalf("risk event %s sealed twice", e.RiskEventID)
		}
		seen[e.RiskEventID] = true
	}
	if len(all) != 40 {
		t.Fatalf("expected 40 entries, got %d", len(all))
	}
}

func TestSetTxHashOnlyOnce(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "A", Verdict: VerdictBlocked})
	claimed, _ := m.ClaimUnsealed(ctx, 50)
	ids := []string{claimed[0].ID}
	if n, _ := m.SetTxHash(ctx, ids, "0xfirst"); n != 1 {
		t.Fatalf("expected 1 update, got %d", n)
	}
	if n, _ := m.SetTxHash(ctx, ids, "0xsecond"); n != 0 {
		t.Fatalf("expected no second update, got %d", n)
	}
	got, err := m.GetAuditEntry(ctx, claimed[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BlockchainHash == nil || *got.BlockchainHash != "0xfirst" {
		t.Fatalf("unexpected hash %v", got.BlockchainHash)
	}
	byTx, _ := m.ListEntriesByTxHash(ctx, "0xfirst")
	if len(byTx) != 1 {
		t.Fatalf("expected entry listed by tx hash")
	}
}

func TestGetAuditEntryNotFound(t *testing.T) {
	if _, err := NewMemory().GetAuditEntry(context.Background(), "aud_missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCountEntriesBefore(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	for i := 0; i < 3; i++ {
		_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "A", Verdict: VerdictBlocked})
	}
	claimed, _ := m.ClaimUnsealed(ctx, 50)
	for i, e := range claimed {
		n, _ := m.CountEntriesBefore(ctx, e.CreatedAt)
		if n != int64(i) {
			t.Fatalf("entry %d: expected ordinal %d, got %d", i, i, n)
		}
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "A", RiskScore: 90, Verdict: VerdictBlocked})
	_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "B", RiskScore: 10, Verdict: VerdictAllowed})
	_, _ = m.InsertRiskEvent(ctx, RiskEvent{ActionType: "C", RiskScore: 50, Verdict: VerdictOverridden})
	claimed, _ := m.ClaimUnsealed(ctx, 2)
	_, _ = m.SetTxHash(ctx, []string{claimed[0].ID}, "0xabc")

	st, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEvents != 3 || st.BlockedEvents != 1 || st.AllowedEvents != 1 || st.OverriddenEvents != 1 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.AuditLogs != 2 || st.AnchoredLogs != 1 {
		t.Fatalf("unexpected audit counts %+v", st)
	}
	if st.AvgRiskScore != 50 {
		t.Fatalf("expected avg 50, got %v", st.AvgRiskScore)
	}
	if st.LatestEvent == nil || st.LatestEvent.ActionType != "C" {
		t.Fatalf("unexpected latest %+v", st.LatestEvent)
	}
}

func TestEntryForEmptyReasoning(t *testing.T) {
	event, details := EntryFor(RiskEvent{ActionType: "DROP_TABLE", Verdict: VerdictBlocked})
	if event != "BLOCKED: DROP_TABLE" || details != NoDetails {
		t.Fatalf("unexpected entry %q %q", event, details)
	}
}
