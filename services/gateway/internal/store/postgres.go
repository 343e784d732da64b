package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// claimLockKey serializes anchoring claims across gateway replicas.
const claimLockKey int64 = 0x4153535552450001

const schema = `
CREATE TABLE IF NOT EXISTS risk_events (
  id TEXT PRIMARY KEY,
  action_type TEXT NOT NULL,
  risk_score DOUBLE PRECISION NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
  verdict TEXT NOT NULL CHECK (verdict IN ('BLOCKED','ALLOWED','OVERRIDDEN')),
  reasoning TEXT NOT NULL DEFAULT '',
  context JSONB NOT NULL DEFAULT '{}'::jsonb,
  user_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS risk_events_created_at_idx ON risk_events(created_at DESC);

CREATE TABLE IF NOT EXISTS audit_log_entries (
  id TEXT PRIMARY KEY,
  event TEXT NOT NULL,
  details TEXT NOT NULL,
  risk_event_id TEXT NOT NULL REFERENCES risk_events(id),
  blockchain_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS audit_log_entries_risk_event_id_key ON audit_log_entries(risk_event_id);
CREATE INDEX IF NOT EXISTS audit_log_entries_created_at_idx ON audit_log_entries(created_at);
CREATE INDEX IF NOT EXISTS audit_log_entries_blockchain_hash_idx ON audit_log_entries(blockchain_hash);
`

type Postgres struct {
	DB  *pgxpool.Pool
	Now func() time.Time
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db, Now: time.Now}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.DB.Ping(ctx)
}

func (s *Postgres) InsertRiskEvent(ctx context.Context, ev RiskEvent) (RiskEvent, error) {
	if ev.ID == "" {
		ev.ID = NewRiskEventID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.Now().UTC()
	}
	if ev.Context == nil {
		ev.Context = map[string]any{}
	}
	if ev.Reasoning == nil {
		ev.Reasoning = []string{}
	}
	ev.RiskScore = ClampScore(ev.RiskScore)
	ctxJSON, err := json.Marshal(ev.Context)
	if err != nil {
		return RiskEvent{}, err
	}
	_, err = s.DB.Exec(ctx, `
INSERT INTO risk_events(id,action_type,risk_score,verdict,reasoning,context,user_id,created_at)
VALUES($1,$2,$3,$4,$5,$6::jsonb,$7,$8)
`, ev.ID, ev.ActionType, ev.RiskScore, string(ev.Verdict), joinReasoning(ev.Reasoning), string(ctxJSON), ev.UserID, ev.CreatedAt)
	if err != nil {
		return RiskEvent{}, err
	}
	return ev, nil
}

// ClaimUnsealed creates one audit entry for each of the newest risk events
// that have none, all inside a single transaction. The returned entries are
// in insertion order.
func (s *Postgres) ClaimUnsealed(ctx context.Context, limit int) ([]AuditEntry, error) {
	limit = normalizeLimit(limit, 50, 1000)
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey); err != nil {
		return nil, err
	}
	var last time.Time
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(created_at), 'epoch'::timestamptz) FROM audit_log_entries`).Scan(&last); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT r.id, r.action_type, r.verdict, r.reasoning
FROM risk_events r
LEFT JOIN audit_log_entries a ON a.risk_event_id = r.id
WHERE a.id IS NULL
ORDER BY r.created_at DESC, r.id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	var events []RiskEvent
	for rows.Next() {
		var ev RiskEvent
		var verdict, reasoning string
		if err := rows.Scan(&ev.ID, &ev.ActionType, &verdict, &reasoning); err != nil {
			rows.Close()
			return nil, err
		}
		ev.Verdict = Verdict(verdict)
		ev.Reasoning = splitReasoning(reasoning)
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]AuditEntry, 0, len(events))
	for _, ev := range events {
		event, details := EntryFor(ev)
		entry := AuditEntry{
			ID:          NewAuditEntryID(),
			Event:       event,
			Details:     details,
			RiskEventID: ev.ID,
			CreatedAt:   nextEntryTime(s.Now(), last),
		}
		err := tx.QueryRow(ctx, `
INSERT INTO audit_log_entries(id,event,details,risk_event_id,created_at)
VALUES($1,$2,$3,$4,$5)
ON CONFLICT (risk_event_id) DO NOTHING
RETURNING id
`, entry.ID, entry.Event, entry.Details, entry.RiskEventID, entry.CreatedAt).Scan(&entry.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, err
		}
		last = entry.CreatedAt
		out = append(out, entry)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// SetTxHash attaches a transaction id to entries that do not have one yet.
func (s *Postgres) SetTxHash(ctx context.Context, entryIDs []string, txHash string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	tag, err := s.DB.Exec(ctx, `
UPDATE audit_log_entries SET blockchain_hash=$1
WHERE id = ANY($2) AND blockchain_hash IS NULL
`, txHash, entryIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) ListUnanchored(ctx context.Context, limit int) ([]AuditEntry, error) {
	return s.queryEntries(ctx, `
SELECT id, event, details, risk_event_id, blockchain_hash, created_at
FROM audit_log_entries
WHERE blockchain_hash IS NULL
ORDER BY created_at ASC, id ASC
LIMIT $1
`, normalizeLimit(limit, 50, 1000))
}

func (s *Postgres) GetAuditEntry(ctx context.Context, id string) (AuditEntry, error) {
	var out AuditEntry
	err := s.DB.QueryRow(ctx, `
SELECT id, event, details, risk_event_id, blockchain_hash, created_at
FROM audit_log_entries
WHERE id=$1
`, id).Scan(&out.ID, &out.Event, &out.Details, &out.RiskEventID, &out.BlockchainHash, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuditEntry{}, ErrNotFound
		}
		return AuditEntry{}, err
	}
	return out, nil
}

func (s *Postgres) CountEntriesBefore(ctx context.Context, createdAt time.Time) (int64, error) {
	var n int64
	err := s.DB.QueryRow(ctx, `SELECT count(*) FROM audit_log_entries WHERE created_at < $1`, createdAt).Scan(&n)
	return n, err
}

func (s *Postgres) ListEntriesByTxHash(ctx context.Context, txHash string) ([]AuditEntry, error) {
	return s.queryEntries(ctx, `
SELECT id, event, details, risk_event_id, blockchain_hash, created_at
FROM audit_log_entries
WHERE blockchain_hash=$1
ORDER BY created_at ASC, id ASC
`, txHash)
}

func (s *Postgres) ListAuditEntries(ctx context.Context, limit int) ([]AuditEntry, error) {
	return s.queryEntries(ctx, `
SELECT id, event, details, risk_event_id, blockchain_hash, created_at
FROM audit_log_entries
ORDER BY created_at DESC, id DESC
LIMIT $1
`, normalizeLimit(limit, 20, 100))
}

func (s *Postgres) ListRiskEvents(ctx context.Context, limit int) ([]RiskEvent, error) {
	rows, err := s.DB.Query(ctx, `
SELECT id, action_type, risk_score, verdict, reasoning, context, user_id, created_at
FROM risk_events
ORDER BY created_at DESC, id DESC
LIMIT $1
`, normalizeLimit(limit, 20, 100))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RiskEvent
	for rows.Next() {
		var ev RiskEvent
		var verdict, reasoning string
		var ctxJSON []byte
		if err := rows.Scan(&ev.ID, &ev.ActionType, &ev.RiskScore, &verdict, &reasoning, &ctxJSON, &ev.UserID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Verdict = Verdict(verdict)
		ev.Reasoning = splitReasoning(reasoning)
		ev.Context = map[string]any{}
		if len(ctxJSON) > 0 {
			if err := json.Unmarshal(ctxJSON, &ev.Context); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.DB.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE verdict='BLOCKED'),
  count(*) FILTER (WHERE verdict='ALLOWED'),
  count(*) FILTER (WHERE verdict='OVERRIDDEN')
FROM risk_events
`).Scan(&st.TotalEvents, &st.BlockedEvents, &st.AllowedEvents, &st.OverriddenEvents)
	if err != nil {
		return Stats{}, err
	}
	err = s.DB.QueryRow(ctx, `SELECT count(*), count(blockchain_hash) FROM audit_log_entries`).Scan(&st.AuditLogs, &st.AnchoredLogs)
	if err != nil {
		return Stats{}, err
	}
	err = s.DB.QueryRow(ctx, `
SELECT COALESCE(AVG(risk_score), 0)
FROM (SELECT risk_score FROM risk_events ORDER BY created_at DESC LIMIT 50) recent
`).Scan(&st.AvgRiskScore)
	if err != nil {
		return Stats{}, err
	}
	latest, err := s.ListRiskEvents(ctx, 1)
	if err != nil {
		return Stats{}, err
	}
	if len(latest) > 0 {
		st.LatestEvent = &latest[0]
	}
	return st, nil
}

func (s *Postgres) queryEntries(ctx context.Context, sql string, args ...any) ([]AuditEntry, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Event, &e.Details, &e.RiskEventID, &e.BlockchainHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
