// Package evaluate asks the scorer for a verdict, applies the fail-safe and
// records the outcome in the audit store.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RichardRajuChirayath/Assure/pkg/db"
	"github.com/RichardRajuChirayath/Assure/pkg/scorer"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
)

const (
	DefaultTimeout = 15 * time.Second

	// DefaultPersistTimeout bounds one audit write including its retries.
	DefaultPersistTimeout = 5 * time.Second

	FailSafeScore     = 50
	FailSafeReasoning = "Assure Risk Service is temporarily unavailable. Fail-safe caution engaged."
)

const (
	VerdictBlock = "BLOCK"
	VerdictWarn  = "WARN"
	VerdictAllow = "ALLOW"
)

var ErrInvalidRequest = errors.New("invalid evaluation request")

type Scorer interface {
	Evaluate(ctx context.Context, req scorer.Request) (*scorer.Response, error)
}

type EventWriter interface {
	InsertRiskEvent(ctx context.Context, ev store.RiskEvent) (store.RiskEvent, error)
}

// Trigger schedules an anchoring pass without waiting for it.
type Trigger interface {
	Trigger()
}

type Observer interface {
	ObserveEvaluation(verdict string, failSafe bool)
	ObserveAuditWriteFailure()
}

type Request struct {
	ActionType  string         `json:"actionType"`
	Environment string         `json:"environment"`
	Payload     map[string]any `json:"payload,omitempty"`
	OperatorID  string         `json:"operatorId,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.ActionType) == "" {
		return fmt.Errorf("%w: actionType is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Environment) == "" {
		return fmt.Errorf("%w: environment is required", ErrInvalidRequest)
	}
	return nil
}

type Breakdown struct {
	Rules          float64 `json:"rules"`
	MLBoost        float64 `json:"ml_boost"`
	AnomalyPenalty float64 `json:"anomaly_penalty"`
	FinalScore     float64 `json:"final_score"`
}

type Result struct {
	RiskScore    float64        `json:"riskScore"`
	Verdict      string         `json:"verdict"`
	Reasoning    []string       `json:"reasoning"`
	MLConfidence float64        `json:"mlConfidence"`
	IsAnomaly    *bool          `json:"isAnomaly,omitempty"`
	Breakdown    *Breakdown     `json:"breakdown,omitempty"`
	Planning     map[string]any `json:"planning,omitempty"`

	// FailSafe marks the cautionary default returned when the scorer could
	// not be used.
	FailSafe bool `json:"-"`
}

func FailSafeResult() Result {
	return Result{
		RiskScore:    FailSafeScore,
		Verdict:      VerdictWarn,
		Reasoning:    []string{FailSafeReasoning},
		MLConfidence: 0,
		FailSafe:     true,
	}
}

type Gateway struct {
	Scorer         Scorer
	Store          EventWriter
	Anchors        Trigger
	Backoff        *db.Backoff
	Timeout        time.Duration
	PersistTimeout time.Duration
	Logger         *slog.Logger
	Observer       Observer
}

// Evaluate never returns an error for a valid request: scorer failures turn
// into the fail-safe result and audit write failures are logged.
func (g *Gateway) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := g.Scorer.Evaluate(callCtx, scorer.Request{
		ActionType:  req.ActionType,
		Environment: req.Environment,
		Payload:     req.Payload,
		OperatorID:  req.OperatorID,
	})
	cancel()
	if err != nil {
		return g.failSafe(req, err), nil
	}
	res, err := Translate(resp)
	if err != nil {
		return g.failSafe(req, err), nil
	}
	g.observe(res.Verdict, false)

	verdict := StoredVerdict(res.Verdict)
	g.persist(ctx, store.RiskEvent{
		ActionType: req.ActionType,
		RiskScore:  res.RiskScore,
		Verdict:    verdict,
		Reasoning:  res.Reasoning,
		Context:    eventContext(req, res),
	})
	return res, nil
}

func (g *Gateway) failSafe(req Request, err error) Result {
	g.logger().Warn("risk engine unavailable, fail-safe engaged",
		"action_type", req.ActionType,
		"environment", req.Environment,
		"error", err,
	)
	g.observe(VerdictWarn, true)
	return FailSafeResult()
}

// persist writes the event on a context detached from the caller so that a
// disconnecting client does not abort the audit write. It waits for the write
// at most PersistTimeout, and never past the caller's own deadline; a write
// still running after that finishes in the background.
func (g *Gateway) persist(ctx context.Context, ev store.RiskEvent) {
	if g.Store == nil {
		g.logger().Info("audit store disabled", "action_type", ev.ActionType, "verdict", ev.Verdict)
		return
	}
	timeout := g.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		g.write(wctx, ev)
	}()

	wait := time.NewTimer(timeout)
	defer wait.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger().Warn("returning verdict before audit write finished",
			"action_type", ev.ActionType,
			"error", ctx.Err(),
		)
	case <-wait.C:
		g.logger().Warn("audit write still running, returning verdict",
			"action_type", ev.ActionType,
			"timeout", timeout.String(),
		)
	}
}

func (g *Gateway) write(ctx context.Context, ev store.RiskEvent) {
	saved, err := db.RetryValue(ctx, g.Backoff, "insert risk event", func(ctx context.Context) (store.RiskEvent, error) {
		return g.Store.InsertRiskEvent(ctx, ev)
	})
	if err != nil {
		g.logger().Error("audit write failed, continuing",
			"action_type", ev.ActionType,
			"verdict", ev.Verdict,
			"error", err,
		)
		if g.Observer != nil {
			g.Observer.ObserveAuditWriteFailure()
		}
		return
	}
	g.logger().Info("risk event persisted",
		"risk_event_id", saved.ID,
		"action_type", saved.ActionType,
		"risk_score", saved.RiskScore,
		"verdict", saved.Verdict,
	)
	if g.Anchors != nil {
		g.Anchors.Trigger()
	}
}

func (g *Gateway) observe(verdict string, failSafe bool) {
	if g.Observer != nil {
		g.Observer.ObserveEvaluation(verdict, failSafe)
	}
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// StoredVerdict maps the scorer vocabulary onto the audit taxonomy. WARN is
// recorded as BLOCKED.
func StoredVerdict(v string) store.Verdict {
	if v == VerdictAllow {
		return store.VerdictAllowed
	}
	return store.VerdictBlocked
}

func eventContext(req Request, res Result) map[string]any {
	out := make(map[string]any, len(req.Payload)+5)
	for k, v := range req.Payload {
		out[k] = v
	}
	out["environment"] = req.Environment
	if req.OperatorID != "" {
		out["operator_id"] = req.OperatorID
	}
	out["ml_confidence"] = res.MLConfidence
	if res.IsAnomaly != nil {
		out["is_anomaly"] = *res.IsAnomaly
	}
	if res.Breakdown != nil {
		out["breakdown"] = map[string]any{
			"rules":           res.Breakdown.Rules,
			"ml_boost":        res.Breakdown.MLBoost,
			"anomaly_penalty": res.Breakdown.AnomalyPenalty,
			"final_score":     res.Breakdown.FinalScore,
		}
	}
	return out
}
