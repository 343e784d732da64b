// Package store persists risk events and the audit trail derived from them.
package store

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("audit log entry not found")

type Verdict string

const (
	VerdictBlocked    Verdict = "BLOCKED"
	VerdictAllowed    Verdict = "ALLOWED"
	VerdictOverridden Verdict = "OVERRIDDEN"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictBlocked, VerdictAllowed, VerdictOverridden:
		return true
	}
	return false
}

// ReasoningSeparator joins reasoning lines into the stored column.
const ReasoningSeparator = " | "

const NoDetails = "No details"

type RiskEvent struct {
	ID         string         `json:"id"`
	ActionType string         `json:"actionType"`
	RiskScore  float64        `json:"riskScore"`
	Verdict    Verdict        `json:"verdict"`
	Reasoning  []string       `json:"reasoning"`
	Context    map[string]any `json:"context"`
	UserID     *string        `json:"userId"`
	CreatedAt  time.Time      `json:"createdAt"`
}

type AuditEntry struct {
	ID             string    `json:"id"`
	Event          string    `json:"event"`
	Details        string    `json:"details"`
	RiskEventID    string    `json:"riskEventId"`
	BlockchainHash *string   `json:"blockchainHash"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (e AuditEntry) Anchored() bool {
	return e.BlockchainHash != nil && *e.BlockchainHash != ""
}

type Stats struct {
	TotalEvents      int64      `json:"totalEvents"`
	BlockedEvents    int64      `json:"blockedEvents"`
	AllowedEvents    int64      `json:"allowedEvents"`
	OverriddenEvents int64      `json:"overriddenEvents"`
	AuditLogs        int64      `json:"auditLogs"`
	AnchoredLogs     int64      `json:"anchoredLogs"`
	AvgRiskScore     float64    `json:"avgRiskScore"`
	LatestEvent      *RiskEvent `json:"latestEvent"`
}

// Store is implemented by Postgres and Memory. Consumers depend on narrower
// interfaces of their own.
type Store interface {
	InsertRiskEvent(ctx context.Context, ev RiskEvent) (RiskEvent, error)
	ClaimUnsealed(ctx context.Context, limit int) ([]AuditEntry, error)
	SetTxHash(ctx context.Context, entryIDs []string, txHash string) (int64, error)
	ListUnanchored(ctx context.Context, limit int) ([]AuditEntry, error)
	GetAuditEntry(ctx context.Context, id string) (AuditEntry, error)
	CountEntriesBefore(ctx context.Context, createdAt time.Time) (int64, error)
	ListEntriesByTxHash(ctx context.Context, txHash string) ([]AuditEntry, error)
	ListRiskEvents(ctx context.Context, limit int) ([]RiskEvent, error)
	ListAuditEntries(ctx context.Context, limit int) ([]AuditEntry, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

func NewRiskEventID() string  { return "rev_" + uuid.NewString() }
func NewAuditEntryID() string { return "aud_" + uuid.NewString() }

// EntryFor derives the audit entry label and details for an event.
func EntryFor(ev RiskEvent) (event, details string) {
	event = string(ev.Verdict) + ": " + ev.ActionType
	details = joinReasoning(ev.Reasoning)
	if strings.TrimSpace(details) == "" {
		details = NoDetails
	}
	return event, details
}

func joinReasoning(lines []string) string {
	return strings.Join(lines, ReasoningSeparator)
}

func splitReasoning(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ReasoningSeparator)
}

// ClampScore keeps a score inside [0,100].
func ClampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// nextEntryTime issues strictly increasing millisecond timestamps so that
// entries claimed in one pass keep their insertion order when sorted by
// creation time.
func nextEntryTime(now, last time.Time) time.Time {
	t := now.UTC().Truncate(time.Millisecond)
	if !last.IsZero() && !t.After(last) {
		t = last.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return t
}

func normalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
