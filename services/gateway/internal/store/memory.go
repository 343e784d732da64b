package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used when no DATABASE_URL is configured and
// by tests. Its mutex plays the role of the unique index on risk_event_id.
type Memory struct {
	mu        sync.Mutex
	events    []RiskEvent
	entries   []AuditEntry
	sealed    map[string]bool
	lastEntry time.Time
	Now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{sealed: map[string]bool{}, Now: time.Now}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) InsertRiskEvent(_ context.Context, ev RiskEvent) (RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = NewRiskEventID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.Now().UTC()
	}
	if ev.Context == nil {
		ev.Context = map[string]any{}
	}
	ev.Reasoning = append([]string{}, ev.Reasoning...)
	ev.RiskScore = ClampScore(ev.RiskScore)
	m.events = append(m.events, ev)
	return ev, nil
}

func (m *Memory) ClaimUnsealed(_ context.Context, limit int) ([]AuditEntry, error) {
	limit = normalizeLimit(limit, 50, 1000)
	m.mu.Lock()
	defer m.mu.Unlock()

	var open []RiskEvent
	for _, ev := range m.events {
		if !m.sealed[ev.ID] {
			open = append(open, ev)
		}
	}
	sortEventsNewestFirst(open)
	if len(open) > limit {
		open = open[:limit]
	}
	out := make([]AuditEntry, 0, len(open))
	for _, ev := range open {
		event, details := EntryFor(ev)
		at := nextEntryTime(m.Now(), m.lastEntry)
		m.lastEntry = at
		entry := AuditEntry{
			ID:          NewAuditEntryID(),
			Event:       event,
			Details:     details,
			RiskEventID: ev.ID,
			CreatedAt:   at,
		}
		m.sealed[ev.ID] = true
		m.entries = append(m.entries, entry)
		out = append(out, entry)
	}
	return out, nil
}

func (m *Memory) SetTxHash(_ context.Context, entryIDs []string, txHash string) (int64, error) {
	want := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		want[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.entries {
		e := &m.entries[i]
		if want[e.ID] && e.BlockchainHash == nil {
			h := txHash
			e.BlockchainHash = &h
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListUnanchored(_ context.Context, limit int) ([]AuditEntry, error) {
	limit = normalizeLimit(limit, 50, 1000)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.sortedEntries() {
		if e.BlockchainHash == nil {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) GetAuditEntry(_ context.Context, id string) (AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			return copyEntry(e), nil
		}
	}
	return AuditEntry{}, ErrNotFound
}

func (m *Memory) CountEntriesBefore(_ context.Context, createdAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.CreatedAt.Before(createdAt) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListEntriesByTxHash(_ context.Context, txHash string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.sortedEntries() {
		if e.BlockchainHash != nil && *e.BlockchainHash == txHash {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListAuditEntries(_ context.Context, limit int) ([]AuditEntry, error) {
	limit = normalizeLimit(limit, 20, 100)
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := m.sortedEntries()
	out := make([]AuditEntry, 0, limit)
	for i := len(sorted) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, sorted[i])
	}
	return out, nil
}

func (m *Memory) ListRiskEvents(_ context.Context, limit int) ([]RiskEvent, error) {
	limit = normalizeLimit(limit, 20, 100)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newestEvents(limit), nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, ev := range m.events {
		st.TotalEvents++
		switch ev.Verdict {
		case VerdictBlocked:
			st.BlockedEvents++
		case VerdictAllowed:
			st.AllowedEvents++
		case VerdictOverridden:
			st.OverriddenEvents++
		}
	}
	for _, e := range m.entries {
		st.AuditLogs++
		if e.BlockchainHash != nil {
			st.AnchoredLogs++
		}
	}
	recent := m.newestEvents(50)
	if len(recent) > 0 {
		var sum float64
		for _, ev := range recent {
			sum += ev.RiskScore
		}
		st.AvgRiskScore = sum / float64(len(recent))
		latest := recent[0]
		st.LatestEvent = &latest
	}
	return st, nil
}

func (m *Memory) newestEvents(limit int) []RiskEvent {
	evs := append([]RiskEvent(nil), m.events...)
	sortEventsNewestFirst(evs)
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return evs
}

// sortedEntries returns copies in insertion order. Callers hold mu.
func (m *Memory) sortedEntries() []AuditEntry {
	out := make([]AuditEntry, len(m.entries))
	for i, e := range m.entries {
		out[i] = copyEntry(e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// sortEventsNewestFirst expects insertion order; ties go to the later insert.
func sortEventsNewestFirst(evs []RiskEvent) {
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].CreatedAt.After(evs[j].CreatedAt)
	})
}

func copyEntry(e AuditEntry) AuditEntry {
	if e.BlockchainHash != nil {
		h := *e.BlockchainHash
		e.BlockchainHash = &h
	}
	return e
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
