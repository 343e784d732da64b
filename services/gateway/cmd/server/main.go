package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/RichardRajuChirayath/Assure/pkg/config"
	"github.com/RichardRajuChirayath/Assure/pkg/db"
	"github.com/RichardRajuChirayath/Assure/pkg/ledger"
	"github.com/RichardRajuChirayath/Assure/pkg/scorer"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/anchor"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/api"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/evaluate"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/stats"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/store"
	"github.com/RichardRajuChirayath/Assure/services/gateway/internal/verify"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	backoff := db.DefaultBackoff(logger)

	st, closeStore, err := openStore(ctx, cfg, backoff, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	chain, ledgerInfo, closeChain := openLedger(ctx, cfg, logger)
	defer closeChain()
	anchorer := ledger.NewAnchorer(chain, cfg.Ledger.SimulatedDelay, logger)

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = stats.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable, stats cache disabled", "error", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	cache := stats.NewCache(st, rdb, cfg.Stats.CacheTTL, logger)
	metrics := stats.NewMetrics(st)

	routine := &anchor.Routine{
		Store:     st,
		Anchorer:  anchorer,
		BatchSize: cfg.Anchor.BatchSize,
		Backoff:   backoff,
		Logger:    logger,
		Observer:  metrics,
	}
	sc := scorer.New(cfg.Scorer.BaseURL)
	gateway := &evaluate.Gateway{
		Scorer:         sc,
		Store:          st,
		Backoff:        backoff,
		Timeout:        cfg.Scorer.Timeout,
		PersistTimeout: cfg.Database.WriteTimeout,
		Logger:         logger,
		Observer:       metrics,
	}
	if cfg.Anchor.Enabled {
		worker := anchor.NewWorker(routine, cfg.Anchor.Interval, logger)
		worker.Start()
		defer worker.Stop()
		gateway.Anchors = worker
	} else {
		logger.Warn("background anchoring disabled")
	}

	h := &api.Handler{
		Evaluator: gateway,
		Anchors:   routine,
		Verifier:  &verify.Resolver{Store: st, Ledger: anchorer, Logger: logger},
		Stats:     cache,
		Store:     st,
		Engine:    sc,
		Metrics:   metrics.Handler(),
		Ledger:    ledgerInfo,
		Flags:     []api.Flag{{Key: "anchoring", Enabled: cfg.Anchor.Enabled, Source: "local"}},
		Logger:    logger,
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", srv.Addr,
			"scorer", cfg.Scorer.BaseURL,
			"ledger_driver", ledgerInfo.Driver,
			"ledger_configured", ledgerInfo.Configured,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, backoff *db.Backoff, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory audit store")
		return store.NewMemory(), func() {}, nil
	}
	pool, err := db.RetryValue(ctx, backoff, "connect database", func(ctx context.Context) (*pgxpool.Pool, error) {
		return db.Connect(ctx, cfg.Database.URL)
	})
	if err != nil {
		return nil, nil, err
	}
	pg := store.NewPostgres(pool)
	if cfg.Database.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("database schema ready")
	}
	return pg, pool.Close, nil
}

// openLedger never fails: any chain problem downgrades to simulated anchoring.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Chain, api.LedgerInfo, func()) {
	info := api.LedgerInfo{Driver: cfg.Ledger.Driver}
	switch cfg.Ledger.Driver {
	case config.LedgerMemory:
		info.Configured = true
		return ledger.NewMemory(), info, func() {}
	case config.LedgerEVM:
		if !cfg.Ledger.Configured() {
			logger.Warn("ledger credentials incomplete, anchors will be simulated")
			return nil, info, func() {}
		}
		evm, err := ledger.DialEVM(ctx, cfg.Ledger.Chain(), logger)
		if err != nil {
			logger.Error("ledger dial failed, anchors will be simulated", "error", err)
			return nil, info, func() {}
		}
		info.Configured = true
		info.ContractAddress = evm.Address()
		return evm, info, evm.Close
	}
	return nil, info, func() {}
}
