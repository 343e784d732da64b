package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RichardRajuChirayath/Assure/pkg/db"
	"github.com/RichardRajuChirayath/Assure/pkg/ledger"
	"github.com/RichardRajuChirayath/Assure/pkg/scorer"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/anchor"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/evaluate"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/stats"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/verify"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	handler *Handler
	mem     *store.Memory
	chain   *ledger.Memory
	router  http.Handler
}

func newFixture(t *testing.T, scorerHandler http.HandlerFunc) *fixture {
	t.Helper()
	ts := httptest.NewServer(scorerHandler)
	t.Cleanup(ts.Close)

	logger := quietLogger()
	mem := store.NewMemory()
	chain := ledger.NewMemory()
	anchorer := ledger.NewAnchorer(chain, time.Millisecond, logger)
	backoff := &db.Backoff{Attempts: 1, Logger: logger}
	metrics := stats.NewMetrics(mem)
	routine := &anchor.Routine{Store: mem, Anchorer: anchorer, Backoff: backoff, Logger: logger, Observer: metrics}
	sc := scorer.New(ts.URL)
	h := &Handler{
		Evaluator: &evaluate.Gateway{Scorer: sc, Store: mem, Backoff: backoff, Timeout: time.Second, Logger: logger, Observer: metrics},
		Anchors:   routine,
		Verifier:  &verify.Resolver{Store: mem, Ledger: anchorer, Logger: logger},
		Stats:     stats.NewCache(mem, nil, 0, logger),
		Store:     mem,
		Engine:    sc,
		Metrics:   metrics.Handler(),
		Ledger:    LedgerInfo{Driver: "memory", Configured: true},
		Flags:     []Flag{{Key: "anchoring", Enabled: true, Source: "local"}},
		Logger:    logger,

		StreamInterval: 10 * time.Millisecond,
	}
	return &fixture{handler: h, mem: mem, chain: chain, router: h.Routes()}
}

func blockScorer(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		_, _ = w.Write([]byte(`{"status":"online","mode":"ML_ACTIVE"}`))
		return
	}
	_, _ = w.Write([]byte(`{"verdict":"BLOCK","risk_score":92,"reasoning":["Targeting PRODUCTION environment"],"ml_confidence":0.9,"is_anomaly":true}`))
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestEvaluateEndpointBlock(t *testing.T) {
	f := newFixture(t, blockScorer)
	for _, path := range []string{"/evaluate", "/v2/risk/evaluate"} {
		rr := f.do(t, http.MethodPost, path, `{"actionType":"DROP_TABLE","environment":"PRODUCTION"}`)
		if rr.Code != 200 {
			t.Fatalf("%s: expected 200, got %d body=%s", path, rr.Code, rr.Body.String())
		}
		var out map[string]any
		decode(t, rr, &out)
		if out["verdict"] != "BLOCK" || out["riskScore"] != 92.0 || out["isAnomaly"] != true {
			t.Fatalf("%s: unexpected body %v", path, out)
		}
	}
	events, _ := f.mem.ListRiskEvents(context.Background(), 10)
	if len(events) != 2 || events[0].Verdict != store.VerdictBlocked {
		t.Fatalf("expected two BLOCKED events, got %+v", events)
	}
}

func TestEvaluateEndpointFailSafe503(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	})
	rr := f.do(t, http.MethodPost, "/evaluate", `{"actionType":"DROP_TABLE","environment":"PRODUCTION"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var out map[string]any
	decode(t, rr, &out)
	if out["verdict"] != "WARN" || out["riskScore"] != 50.0 || out["mlConfidence"] != 0.0 {
		t.Fatalf("unexpected fail-safe body %v", out)
	}
	if events, _ := f.mem.ListRiskEvents(context.Background(), 10); len(events) != 0 {
		t.Fatalf("fail-safe must not persist")
	}
}

func TestEvaluateEndpointRejectsMalformed(t *testing.T) {
	f := newFixture(t, blockScorer)
	for _, body := range []string{`{"actionType":`, `{"actionType":"DROP_TABLE"}`, ``} {
		rr := f.do(t, http.MethodPost, "/evaluate", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
	if events, _ := f.mem.ListRiskEvents(context.Background(), 10); len(events) != 0 {
		t.Fatalf("malformed requests must not persist")
	}
}

func TestAnchorThenVerifyOnChain(t *testing.T) {
	f := newFixture(t, blockScorer)
	f.do(t, http.MethodPost, "/evaluate", `{"actionType":"DROP_TABLE","environment":"PRODUCTION"}`)

	rr := f.do(t, http.MethodPost, "/anchor", "")
	if rr.Code != 200 {
		t.Fatalf("anchor: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var res anchor.Result
	decode(t, rr, &res)
	if res.Count != 1 || res.Simulated {
		t.Fatalf("unexpected anchor result %+v", res)
	}

	logs, _ := f.mem.ListAuditEntries(context.Background(), 10)
	rr = f.do(t, http.MethodGet, "/verify-on-chain?id="+logs[0].ID, "")
	if rr.Code != 200 {
		t.Fatalf("verify: expected 200, got %d", rr.Code)
	}
	var v verify.Result
	decode(t, rr, &v)
	if v.Status != verify.StatusVerified || v.RootHash != res.RootHash || v.TxHash == nil || *v.TxHash != res.TxHash {
		t.Fatalf("unexpected verification %+v", v)
	}

	rr = f.do(t, http.MethodPost, "/anchor", "")
	decode(t, rr, &res)
	if res.Count != 0 || res.Message != anchor.MessageNothingToAnchor {
		t.Fatalf("expected idempotent second pass, got %+v", res)
	}
}

func TestVerifyErrors(t *testing.T) {
	f := newFixture(t, blockScorer)
	rr := f.do(t, http.MethodGet, "/verify-on-chain", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/verify-on-chain?id=aud_unknown", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var out map[string]any
	decode(t, rr, &out)
	if _, ok := out["error"]; !ok {
		t.Fatalf("expected error field, got %v", out)
	}
}

func TestOverrideEndpoint(t *testing.T) {
	f := newFixture(t, blockScorer)
	rr := f.do(t, http.MethodPost, "/override", `{"actionType":"DROP_TABLE","riskScore":92}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodPost, "/override", `{"actionType":"DROP_TABLE","reason":"approved by DBA","riskScore":92}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	st, _ := f.mem.Stats(context.Background())
	if st.OverriddenEvents != 1 {
		t.Fatalf("expected one overridden event, got %+v", st)
	}
}

type downStore struct{ *store.Memory }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	f := newFixture(t, blockScorer)
	rr := f.do(t, http.MethodGet, "/health", "")
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
		Ledger string            `json:"ledger"`
	}
	decode(t, rr, &out)
	if out.Status != "healthy" || out.Checks["database"] != "ok" || out.Checks["redis"] != "disabled" || out.Ledger != "configured" {
		t.Fatalf("unexpected health %+v", out)
	}
	if !strings.HasPrefix(out.Checks["engine"], "ok") {
		t.Fatalf("expected engine ok, got %q", out.Checks["engine"])
	}

	f.handler.Store = downStore{f.mem}
	rr = httptest.NewRecorder()
	f.handler.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", rr.Code)
	}
}

func TestPublicConfigAndFlags(t *testing.T) {
	f := newFixture(t, blockScorer)
	f.handler.Ledger = LedgerInfo{Driver: "none"}
	router := f.handler.Routes()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/config/public", nil))
	var cfg map[string]any
	decode(t, rr, &cfg)
	if cfg["ledgerConfigured"] != false || cfg["auditContract"] != "" || cfg["chainDriver"] != "none" {
		t.Fatalf("unexpected public config %v", cfg)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/flags", nil))
	if !strings.Contains(rr.Body.String(), `"anchoring"`) {
		t.Fatalf("expected anchoring flag, got %s", rr.Body.String())
	}
}

func TestListingsCapLimit(t *testing.T) {
	f := newFixture(t, blockScorer)
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		_, _ = f.mem.InsertRiskEvent(ctx, store.RiskEvent{ActionType: "X", Verdict: store.VerdictAllowed})
	}
	rr := f.do(t, http.MethodGet, "/events/recent?limit=500", "")
	var out struct {
		Events []store.RiskEvent `json:"events"`
	}
	decode(t, rr, &out)
	if len(out.Events) != 100 {
		t.Fatalf("expected limit capped at 100, got %d", len(out.Events))
	}
	if rr := f.do(t, http.MethodGet, "/audit?limit=abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
	rr = f.do(t, http.MethodGet, "/audit", "")
	if !strings.Contains(rr.Body.String(), `"logs":[]`) {
		t.Fatalf("expected empty logs array, got %s", rr.Body.String())
	}
}

func TestStatsStream(t *testing.T) {
	f := newFixture(t, blockScorer)
	_, _ = f.mem.InsertRiskEvent(context.Background(), store.RiskEvent{ActionType: "X", RiskScore: 30, Verdict: store.VerdictAllowed})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("content-type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	sc := bufio.NewScanner(resp.Body)
	var events int
	for sc.Scan() && events < 2 {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			var st store.Stats
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if st.TotalEvents != 1 {
				t.Fatalf("unexpected stats %+v", st)
			}
			events++
		}
	}
	if events < 2 {
		t.Fatalf("expected repeated stats events, got %d", events)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, blockScorer)
	f.do(t, http.MethodPost, "/evaluate", `{"actionType":"DROP_TABLE","environment":"PRODUCTION"}`)
	rr := f.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), `assure_risk_events_total{verdict="BLOCKED"} 1`) {
		t.Fatalf("unexpected metrics output %d", rr.Code)
	}
}
