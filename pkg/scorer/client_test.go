package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEvaluateSendsWireShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/evaluate" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req["action_type"] != "DROP_TABLE" || req["environment"] != "PRODUCTION" {
			t.Fatalf("unexpected request %+v", req)
		}
		if req["operator_id"] != "unknown" {
			t.Fatalf("expected default operator id, got %v", req["operator_id"])
		}
		if _, ok := req["payload"].(map[string]any); !ok {
			t.Fatalf("expected payload object, got %T", req["payload"])
		}
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`{"risk_score":92,"verdict":"BLOCK","reasoning":["Targeting PRODUCTION environment"],"ml_confidence":0.81,"signals":{"environment":20}}`))
	}))
	defer ts.Close()

	c := New(ts.URL + "/")
	out, err := c.Evaluate(context.Background(), Request{ActionType: "DROP_TABLE", Environment: "PRODUCTION"})
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if out.RiskScore == nil || *out.RiskScore != 92 || out.Verdict != "BLOCK" {
		t.Fatalf("unexpected response %+v", out)
	}
	if out.MLConfidence == nil || *out.MLConfidence != 0.81 {
		t.Fatalf("unexpected confidence %+v", out.MLConfidence)
	}
	if out.Breakdown != nil {
		t.Fatalf("expected absent breakdown to stay nil")
	}
}

func TestEvaluateNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Evaluate(context.Background(), Request{ActionType: "DEPLOY", Environment: "STAGING"})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"online","engine":"Assure AI v4.0","mode":"ML_ACTIVE"}`))
	}))
	defer ts.Close()

	st, err := New(ts.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if st.Status != "online" || st.Mode != "ML_ACTIVE" {
		t.Fatalf("unexpected status %+v", st)
	}
}
