package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Server.Port != 8080 || c.Scorer.BaseURL != "http://localhost:8000" || c.Scorer.Timeout != 15*time.Second {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.Ledger.Driver != LedgerEVM || c.Ledger.SimulatedDelay != 1500*time.Millisecond || c.Ledger.Configured() {
		t.Fatalf("unexpected ledger defaults %+v", c.Ledger)
	}
	if c.Anchor.BatchSize != 50 || c.Anchor.Interval != 5*time.Minute || !c.Anchor.Enabled {
		t.Fatalf("unexpected anchor defaults %+v", c.Anchor)
	}
	if c.Stats.CacheTTL != time.Minute || c.LogLevel() != slog.LevelInfo {
		t.Fatalf("unexpected stats/log defaults %+v", c)
	}
}

func TestLoadEnvAliases(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://assure@localhost/assure")
	t.Setenv("ENGINE_URL", "http://engine:8000")
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("AUDIT_CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("LEDGER_RPC_URL", "http://rpc")
	t.Setenv("ASSURE_LOG_LEVEL", "debug")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Database.URL != "postgres://assure@localhost/assure" || c.Scorer.BaseURL != "http://engine:8000" || c.Server.Port != 9090 {
		t.Fatalf("aliases not applied %+v", c)
	}
	if c.Ledger.Configured() {
		t.Fatalf("partial chain credentials must not count as configured")
	}
	t.Setenv("LEDGER_PRIVATE_KEY", "deadbeef")
	c, _ = Load("")
	if !c.Ledger.Configured() {
		t.Fatalf("expected ledger configured with all three credentials")
	}
	if c.LogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", c.LogLevel())
	}
}

func TestLoadDashboardLedgerAliases(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NEXT_PUBLIC_AUDIT_CONTRACT", "0x00000000000000000000000000000000000000bb")
	t.Setenv("AMOY_RPC_URL", "https://rpc-amoy.polygon.technology")
	t.Setenv("BLOCKCHAIN_PRIVATE_KEY", "deadbeef")

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !c.Ledger.Configured() {
		t.Fatalf("expected ledger configured from dashboard variables, got %+v", c.Ledger)
	}
	if c.Ledger.RPCURL != "https://rpc-amoy.polygon.technology" {
		t.Fatalf("unexpected rpc url %q", c.Ledger.RPCURL)
	}
	if c.Database.WriteTimeout != 5*time.Second {
		t.Fatalf("unexpected write timeout %v", c.Database.WriteTimeout)
	}
}

func TestPrefixedEnvWinsOverAlias(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ASSURE_SCORER_BASE_URL", "http://primary:8000")
	t.Setenv("ENGINE_URL", "http://alias:8000")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Scorer.BaseURL != "http://primary:8000" {
		t.Fatalf("expected prefixed variable to win, got %s", c.Scorer.BaseURL)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "assure.yaml")
	if err := os.WriteFile(path, []byte("ledger:\n  driver: memory\nanchor:\n  batch_size: 10\n  interval: 30s\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if c.Ledger.Driver != LedgerMemory || c.Anchor.BatchSize != 10 || c.Anchor.Interval != 30*time.Second {
		t.Fatalf("file values not applied %+v", c)
	}

	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("ledger:\n  driver: solana\n"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected unknown ledger driver to be rejected")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected explicit missing file to fail")
	}
}
