package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardRajuChirayath/Assure/pkg/httpx"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/anchor"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/verify"
)

func (h *Handler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	h.runAnchoring(w, r, h.Anchors.Run)
}

func (h *Handler) HandleRescue(w http.ResponseWriter, r *http.Request) {
	h.runAnchoring(w, r, h.Anchors.Rescue)
}

// runAnchoring detaches from the request so a client hang-up cannot strand a
// claimed batch without its transaction id.
func (h *Handler) runAnchoring(w http.ResponseWriter, r *http.Request, run func(context.Context) (anchor.Result, error)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), anchorTimeout)
	defer cancel()
	res, err := run(ctx)
	if err != nil {
		h.logger().Error("manual anchoring failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "ANCHOR_ERROR", err.Error(), nil)
		return
	}
	if res.Count > 0 && h.Stats != nil {
		h.Stats.Invalidate(ctx)
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing ID"})
		return
	}
	res, err := h.Verifier.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, verify.ErrNotFound) {
			httpx.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "Audit log not found"})
			return
		}
		h.logger().Error("verification failed", "audit_log_id", id, "error", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}
