package evaluate

import (
	"context"
	"fmt"
	"strings"

	"github.com/RichardRajuChirayath/Assure/pkg/db"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

// OverrideRequest records an operator's explicit bypass of an intercepted
// action.
type OverrideRequest struct {
	ActionType  string         `json:"actionType"`
	Reason      string         `json:"reason"`
	RiskScore   float64        `json:"riskScore"`
	Environment string         `json:"environment,omitempty"`
	OperatorID  string         `json:"operatorId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

func (r OverrideRequest) Validate() error {
	if strings.TrimSpace(r.ActionType) == "" {
		return fmt.Errorf("%w: actionType is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	}
	return nil
}

// Override is written synchronously and, unlike Evaluate, reports a store
// failure to the caller.
func (g *Gateway) Override(ctx context.Context, req OverrideRequest) (store.RiskEvent, error) {
	if err := req.Validate(); err != nil {
		return store.RiskEvent{}, err
	}
	if g.Store == nil {
		return store.RiskEvent{}, fmt.Errorf("audit store unavailable")
	}
	evCtx := make(map[string]any, len(req.Payload)+3)
	for k, v := range req.Payload {
		evCtx[k] = v
	}
	evCtx["override_reason"] = req.Reason
	if req.Environment != "" {
		evCtx["environment"] = req.Environment
	}
	if req.OperatorID != "" {
		evCtx["operator_id"] = req.OperatorID
	}
	ev := store.RiskEvent{
		ActionType: req.ActionType,
		RiskScore:  store.ClampScore(req.RiskScore),
		Verdict:    store.VerdictOverridden,
		Reasoning:  []string{"Manual override: " + req.Reason},
		Context:    evCtx,
	}
	timeout := g.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	saved, err := db.RetryValue(wctx, g.Backoff, "insert override event", func(ctx context.Context) (store.RiskEvent, error) {
		return g.Store.InsertRiskEvent(ctx, ev)
	})
	if err != nil {
		if g.Observer != nil {
			g.Observer.ObserveAuditWriteFailure()
		}
		return store.RiskEvent{}, err
	}
	g.observe(string(store.VerdictOverridden), false)
	g.logger().Info("override recorded",
		"risk_event_id", saved.ID,
		"action_type", saved.ActionType,
		"operator_id", req.OperatorID,
	)
	if g.Anchors != nil {
		g.Anchors.Trigger()
	}
	return saved, nil
}
