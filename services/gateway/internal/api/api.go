// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RichardRajuChirayath/Assure/pkg/httpx"
	"github.com/RichardRajuChirayath/Assure/pkg/scorer"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/anchor"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/evaluate"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/verify"
)

type Evaluator interface {
	Evaluate(ctx context.Context, req evaluate.Request) (evaluate.Result, error)
	Override(ctx context.Context, req evaluate.OverrideRequest) (store.RiskEvent, error)
}

type Anchoring interface {
	Run(ctx context.Context) (anchor.Result, error)
	Rescue(ctx context.Context) (anchor.Result, error)
}

type Verifier interface {
	Resolve(ctx context.Context, entryID string) (verify.Result, error)
}

type StatsCache interface {
	Get(ctx context.Context) (store.Stats, error)
	Invalidate(ctx context.Context)
	Ping(ctx context.Context) error
	Enabled() bool
}

type Lister interface {
	ListRiskEvents(ctx context.Context, limit int) ([]store.RiskEvent, error)
	ListAuditEntries(ctx context.Context, limit int) ([]store.AuditEntry, error)
	Ping(ctx context.Context) error
}

type Engine interface {
	Status(ctx context.Context) (*scorer.Status, error)
}

// LedgerInfo is what callers need to tell real transaction ids from
// simulated ones.
type LedgerInfo struct {
	Driver          string
	ContractAddress string
	Configured      bool
}

type Flag struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Source  string `json:"source"`
}

const (
	DefaultStreamInterval = 5 * time.Second
	anchorTimeout         = 2 * time.Minute
	engineCheckTimeout    = 3 * time.Second
)

type Handler struct {
	Evaluator      Evaluator
	Anchors        Anchoring
	Verifier       Verifier
	Stats          StatsCache
	Store          Lister
	Engine         Engine
	Metrics        http.Handler
	Ledger         LedgerInfo
	Flags          []Flag
	Logger         *slog.Logger
	StreamInterval time.Duration
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.RequestLogger(h.logger()))

	r.Get("/health", h.HandleHealth)
	r.Get("/config/public", h.HandlePublicConfig)
	r.Get("/flags", h.HandleFlags)

	r.Post("/evaluate", h.HandleEvaluate)
	r.Post("/v2/risk/evaluate", h.HandleEvaluate)
	r.Post("/override", h.HandleOverride)

	r.Post("/anchor", h.HandleAnchor)
	r.Post("/anchor/rescue", h.HandleRescue)
	r.Get("/verify-on-chain", h.HandleVerify)

	r.Get("/stats", h.HandleStats)
	r.Get("/events/stream", h.HandleStream)
	r.Get("/events/recent", h.HandleRecentEvents)
	r.Get("/audit", h.HandleAuditEntries)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	return r
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
