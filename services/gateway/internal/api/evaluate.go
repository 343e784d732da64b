package api

import (
	"errors"
	"net/http"

	"github.com/RichardRajuChirayath/Assure/pkg/httpx"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/evaluate"
)

func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluate.Request
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", "invalid json", map[string]any{"reason": err.Error()})
		return
	}
	res, err := h.Evaluator.Evaluate(r.Context(), req)
	if err != nil {
		if errors.Is(err, evaluate.ErrInvalidRequest) {
			httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "EVALUATION_ERROR", err.Error(), nil)
		return
	}
	status := http.StatusOK
	if res.FailSafe {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, res)
}

func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	var req evaluate.OverrideRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", "invalid json", map[string]any{"reason": err.Error()})
		return
	}
	ev, err := h.Evaluator.Override(r.Context(), req)
	if err != nil {
		if errors.Is(err, evaluate.ErrInvalidRequest) {
			httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	if h.Stats != nil {
		h.Stats.Invalidate(r.Context())
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "event": ev})
}
