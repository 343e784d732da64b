package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RichardRajuChirayath/Assure/pkg/httpx"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status, code := "healthy", http.StatusOK

	if err := h.Store.Ping(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	checks["engine"] = "unknown"
	if h.Engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), engineCheckTimeout)
		st, err := h.Engine.Status(ctx)
		cancel()
		switch {
		case err != nil:
			checks["engine"] = "unreachable"
		case st.Mode != "":
			checks["engine"] = "ok (" + st.Mode + ")"
		default:
			checks["engine"] = "ok"
		}
	}

	checks["redis"] = "disabled"
	if h.Stats != nil && h.Stats.Enabled() {
		if err := h.Stats.Ping(r.Context()); err != nil {
			checks["redis"] = "error: " + err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	ledgerState := "simulated"
	if h.Ledger.Configured {
		ledgerState = "configured"
	}
	httpx.WriteJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"ledger":    ledgerState,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) HandlePublicConfig(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"auditContract":    h.Ledger.ContractAddress,
		"ledgerConfigured": h.Ledger.Configured,
		"chainDriver":      h.Ledger.Driver,
	})
}

func (h *Handler) HandleFlags(w http.ResponseWriter, r *http.Request) {
	flags := h.Flags
	if flags == nil {
		flags = []Flag{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stats.Get(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

// HandleStream pushes stats as server-sent events until the client leaves.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "streaming unsupported", nil)
		return
	}
	w.Header().Set("content-type", "text/event-stream")
	w.Header().Set("cache-control", "no-cache")
	w.Header().Set("connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	send := func() {
		st, err := h.Stats.Get(ctx)
		if err != nil {
			b, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
		} else {
			b, _ := json.Marshal(st)
			fmt.Fprintf(w, "event: stats\ndata: %s\n\n", b)
		}
		flusher.Flush()
	}

	interval := h.StreamInterval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	send()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			send()
		}
	}
}

func (h *Handler) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}
	events, err := h.Store.ListRiskEvents(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	if events == nil {
		events = []store.RiskEvent{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) HandleAuditEntries(w http.ResponseWriter, r *http.Request) {
	limit, ok := listLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.ListAuditEntries(r.Context(), limit)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func listLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_LIMIT", "limit must be a positive integer", nil)
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
