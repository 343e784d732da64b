// Package config loads gateway settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RichardRajuChirayath/Assure/pkg/ledger"
)

const EnvPrefix = "ASSURE"

const (
	LedgerEVM    = "evm"
	LedgerMemory = "memory"
	LedgerNone   = "none"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL         string `mapstructure:"url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`

	// WriteTimeout bounds one audit write, retries included.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ScorerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LedgerConfig struct {
	Driver          string        `mapstructure:"driver"`
	ContractAddress string        `mapstructure:"contract_address"`
	RPCURL          string        `mapstructure:"rpc_url"`
	PrivateKey      string        `mapstructure:"private_key"`
	SimulatedDelay  time.Duration `mapstructure:"simulated_delay"`
}

// Chain returns the credentials in the ledger package's shape.
func (c LedgerConfig) Chain() ledger.Config {
	return ledger.Config{ContractAddress: c.ContractAddress, RPCURL: c.RPCURL, PrivateKey: c.PrivateKey}
}

// Configured reports whether all three chain credentials are present.
func (c LedgerConfig) Configured() bool { return c.Chain().Configured() }

type AnchorConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
	Enabled   bool          `mapstructure:"enabled"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type StatsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Scorer   ScorerConfig   `mapstructure:"scorer"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Anchor   AnchorConfig   `mapstructure:"anchor"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Log      LogConfig      `mapstructure:"log"`
}

var defaults = map[string]any{
	"server.port":             8080,
	"database.url":            "",
	"database.auto_migrate":   true,
	"database.write_timeout":  "5s",
	"scorer.base_url":         "http://localhost:8000",
	"scorer.timeout":          "15s",
	"ledger.driver":           LedgerEVM,
	"ledger.contract_address": "",
	"ledger.rpc_url":          "",
	"ledger.private_key":      "",
	"ledger.simulated_delay":  "1.5s",
	"anchor.batch_size":       50,
	"anchor.interval":         "5m",
	"anchor.enabled":          true,
	"redis.url":               "",
	"stats.cache_ttl":         "60s",
	"log.level":               "info",
}

// aliases are unprefixed variable names, checked in order after the ASSURE_
// name. The NEXT_PUBLIC_/AMOY_/BLOCKCHAIN_ names come from the web dashboard's
// environment.
var aliases = map[string][]string{
	"server.port":             {"SERVICE_PORT"},
	"database.url":            {"DATABASE_URL"},
	"scorer.base_url":         {"ASSURE_SCORER_URL", "ENGINE_URL"},
	"ledger.contract_address": {"AUDIT_CONTRACT_ADDRESS", "NEXT_PUBLIC_AUDIT_CONTRACT"},
	"ledger.rpc_url":          {"LEDGER_RPC_URL", "AMOY_RPC_URL"},
	"ledger.private_key":      {"LEDGER_PRIVATE_KEY", "BLOCKCHAIN_PRIVATE_KEY"},
	"redis.url":               {"REDIS_URL"},
}

// Load reads path (or $ASSURE_CONFIG, or ./config.yaml when present) and
// applies environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	for k := range defaults {
		envs := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_"))}
		envs = append(envs, aliases[k]...)
		if err := v.BindEnv(append([]string{k}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", k, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Ledger.Driver = strings.ToLower(strings.TrimSpace(c.Ledger.Driver))
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Ledger.Driver {
	case LedgerEVM, LedgerMemory, LedgerNone:
	default:
		return fmt.Errorf("ledger.driver must be one of evm, memory, none: %q", c.Ledger.Driver)
	}
	if c.Anchor.BatchSize <= 0 {
		return fmt.Errorf("anchor.batch_size must be positive: %d", c.Anchor.BatchSize)
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database.write_timeout must be positive: %s", c.Database.WriteTimeout)
	}
	if c.Scorer.Timeout <= 0 {
		return fmt.Errorf("scorer.timeout must be positive: %s", c.Scorer.Timeout)
	}
	if strings.TrimSpace(c.Scorer.BaseURL) == "" {
		return errors.New("scorer.base_url is required")
	}
	return nil
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
