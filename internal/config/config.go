// Package config defines the top-level configuration for the copybot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPYBOT_* environment variables.
type Config struct {
	Solana   SolanaConfig   `toml:"solana"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Executor ExecutorConfig `toml:"executor"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Sizing   SizingConfig   `toml:"sizing"`
	Strategy StrategyConfig `toml:"strategy"`
	Trade    TradeConfig    `toml:"trade"`
	Alerts   AlertsConfig   `toml:"alerts"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SolanaConfig holds RPC and swap-aggregator endpoints plus the trading
// wallet address. The engine never holds the key itself; signing is delegated
// to the execution backend.
type SolanaConfig struct {
	RpcURL        string `toml:"rpc_url"`
	WalletAddress string `toml:"wallet_address"`
	JupiterHost   string `toml:"jupiter_host"`
	PriceHost     string `toml:"price_host"`
	RelayHost     string `toml:"relay_host"`
	RelayAPIKey   string `toml:"relay_api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ExecutorConfig holds queued-executor parameters.
type ExecutorConfig struct {
	WorkerID        string   `toml:"worker_id"`
	MaxConcurrent   int      `toml:"max_concurrent"`
	MaxAttempts     int      `toml:"max_attempts"`
	LeaseTTL        duration `toml:"lease_ttl"`
	ReclaimInterval duration `toml:"reclaim_interval"`
	RpcMinInterval  duration `toml:"rpc_min_interval"`
}

// MonitorConfig holds price-monitor parameters.
type MonitorConfig struct {
	Interval         duration `toml:"interval"`
	FetchConcurrency int      `toml:"fetch_concurrency"`
	LeaderElection   bool     `toml:"leader_election"`
	LeaderTTL        duration `toml:"leader_ttl"`
	PriceCacheTTL    duration `toml:"price_cache_ttl"`
}

// SizingConfig holds position-sizing and risk-gate parameters.
type SizingConfig struct {
	BasePositionPct          float64 `toml:"base_position_pct"`
	MinPositionSol           float64 `toml:"min_position_sol"`
	MaxPositionSol           float64 `toml:"max_position_sol"`
	HighConvictionThreshold  float64 `toml:"high_conviction_threshold"`
	MinConvictionThreshold   float64 `toml:"min_conviction_threshold"`
	HighConvictionMultiplier float64 `toml:"high_conviction_multiplier"`
	StandardMultiplier       float64 `toml:"standard_multiplier"`
	MaxConcurrentPositions   int     `toml:"max_concurrent_positions"`
	MaxCapitalAllocationPct  float64 `toml:"max_capital_allocation_pct"`
	ReserveSol               float64 `toml:"reserve_sol"`
}

// TakeProfitConfig is one rung of the configured exit ladder.
type TakeProfitConfig struct {
	TriggerMultiplier float64 `toml:"trigger_multiplier"`
	SellPct           float64 `toml:"sell_pct"`
}

// TrailingConfig holds trailing-stop parameters.
type TrailingConfig struct {
	Enabled              bool    `toml:"enabled"`
	ActivationMultiplier float64 `toml:"activation_multiplier"`
	DistancePct          float64 `toml:"distance_pct"`
}

// MoonbagConfig holds moonbag retention parameters.
type MoonbagConfig struct {
	Enabled      bool    `toml:"enabled"`
	Percent      float64 `toml:"percent"`
	StopFraction float64 `toml:"stop_fraction"`
}

// StrategyConfig holds the exit strategy assigned to new positions.
type StrategyConfig struct {
	ID          string             `toml:"id"`
	Name        string             `toml:"name"`
	StopLossPct float64            `toml:"stop_loss_pct"`
	TakeProfits []TakeProfitConfig `toml:"take_profits"`
	Trailing    TrailingConfig     `toml:"trailing"`
	Moonbag     MoonbagConfig      `toml:"moonbag"`
}

// TradeConfig holds trade-orchestration parameters.
type TradeConfig struct {
	MaxSlippageBps    int     `toml:"max_slippage_bps"`
	ReducedModeFactor float64 `toml:"reduced_mode_factor"`
	Simulated         bool    `toml:"simulated"`
	PaperBalanceSol   float64 `toml:"paper_balance_sol"`
}

// AlertsConfig holds alert dedupe parameters.
type AlertsConfig struct {
	DedupeWindow duration `toml:"dedupe_window"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "1m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. Paper
// trading against mainnet endpoints works out of the box; live trading needs
// wallet and relay settings on top.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RpcURL:      "https://api.mainnet-beta.solana.com",
			JupiterHost: "https://quote-api.jup.ag",
			PriceHost:   "https://lite-api.jup.ag",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			Namespace:  "copybot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copybot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Executor: ExecutorConfig{
			MaxConcurrent:   2,
			MaxAttempts:     3,
			LeaseTTL:        duration{60 * time.Second},
			ReclaimInterval: duration{5 * time.Second},
			RpcMinInterval:  duration{200 * time.Millisecond},
		},
		Monitor: MonitorConfig{
			Interval:         duration{5 * time.Second},
			FetchConcurrency: 4,
			LeaderElection:   false,
			LeaderTTL:        duration{30 * time.Second},
			PriceCacheTTL:    duration{30 * time.Second},
		},
		Sizing: SizingConfig{
			BasePositionPct:          5.0,
			MinPositionSol:           0.05,
			MaxPositionSol:           1.0,
			HighConvictionThreshold:  80,
			MinConvictionThreshold:   50,
			HighConvictionMultiplier: 1.5,
			StandardMultiplier:       1.0,
			MaxConcurrentPositions:   5,
			MaxCapitalAllocationPct:  60,
			ReserveSol:               0.1,
		},
		Strategy: StrategyConfig{
			ID:          "default",
			Name:        "Laddered exits with moonbag",
			StopLossPct: 50,
			TakeProfits: []TakeProfitConfig{
				{TriggerMultiplier: 2.0, SellPct: 50},
				{TriggerMultiplier: 3.0, SellPct: 50},
			},
			Trailing: TrailingConfig{
				Enabled:              true,
				ActivationMultiplier: 2.0,
				DistancePct:          15,
			},
			Moonbag: MoonbagConfig{
				Enabled:      true,
				Percent:      10,
				StopFraction: 80,
			},
		},
		Trade: TradeConfig{
			MaxSlippageBps:    300,
			ReducedModeFactor: 0.5,
			Simulated:         true,
			PaperBalanceSol:   10,
		},
		Alerts: AlertsConfig{
			DedupeWindow: duration{time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"alert_warning", "alert_critical", "order_filled", "position_closed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana
	if c.Solana.RpcURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	live := (c.Mode == "trade" || c.Mode == "full") && !c.Trade.Simulated
	if live && c.Solana.WalletAddress == "" {
		errs = append(errs, "solana: wallet_address is required for live trading in mode "+c.Mode)
	}
	if live && c.Solana.RelayHost == "" {
		errs = append(errs, "solana: relay_host is required for live trading in mode "+c.Mode)
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is enabled.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Executor
	if c.Executor.MaxConcurrent < 1 {
		errs = append(errs, "executor: max_concurrent must be >= 1")
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, "executor: max_attempts must be >= 1")
	}
	if c.Executor.LeaseTTL.Duration <= 0 {
		errs = append(errs, "executor: lease_ttl must be positive")
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be positive")
	}
	if c.Monitor.FetchConcurrency < 1 {
		errs = append(errs, "monitor: fetch_concurrency must be >= 1")
	}

	// Sizing
	if c.Sizing.BasePositionPct <= 0 || c.Sizing.BasePositionPct > 100 {
		errs = append(errs, fmt.Sprintf("sizing: base_position_pct must be in (0,100], got %.2f", c.Sizing.BasePositionPct))
	}
	if c.Sizing.MaxPositionSol < c.Sizing.MinPositionSol {
		errs = append(errs, "sizing: max_position_sol must not be below min_position_sol")
	}
	if c.Sizing.HighConvictionThreshold <= c.Sizing.MinConvictionThreshold {
		errs = append(errs, "sizing: high_conviction_threshold must exceed min_conviction_threshold")
	}
	if c.Sizing.MaxConcurrentPositions < 1 {
		errs = append(errs, "sizing: max_concurrent_positions must be >= 1")
	}

	// Strategy
	if c.Strategy.StopLossPct <= 0 || c.Strategy.StopLossPct >= 100 {
		errs = append(errs, fmt.Sprintf("strategy: stop_loss_pct must be in (0,100), got %.2f", c.Strategy.StopLossPct))
	}
	for i, tp := range c.Strategy.TakeProfits {
		if tp.TriggerMultiplier <= 1 {
			errs = append(errs, fmt.Sprintf("strategy: take_profits[%d].trigger_multiplier must exceed 1", i))
		}
		if tp.SellPct <= 0 || tp.SellPct > 100 {
			errs = append(errs, fmt.Sprintf("strategy: take_profits[%d].sell_pct must be in (0,100]", i))
		}
		if i > 0 && tp.TriggerMultiplier <= c.Strategy.TakeProfits[i-1].TriggerMultiplier {
			errs = append(errs, "strategy: take_profits must be strictly ascending by trigger_multiplier")
		}
		if tp.SellPct >= 100 && i < len(c.Strategy.TakeProfits)-1 {
			errs = append(errs, fmt.Sprintf("strategy: take_profits[%d] sells everything but later rungs remain", i))
		}
	}
	if c.Strategy.Trailing.Enabled {
		if c.Strategy.Trailing.ActivationMultiplier <= 1 {
			errs = append(errs, "strategy: trailing.activation_multiplier must exceed 1")
		}
		if c.Strategy.Trailing.DistancePct <= 0 || c.Strategy.Trailing.DistancePct >= 100 {
			errs = append(errs, "strategy: trailing.distance_pct must be in (0,100)")
		}
	}
	if c.Strategy.Moonbag.Enabled {
		if c.Strategy.Moonbag.Percent <= 0 || c.Strategy.Moonbag.Percent >= 100 {
			errs = append(errs, "strategy: moonbag.percent must be in (0,100)")
		}
		if c.Strategy.Moonbag.StopFraction < 0 || c.Strategy.Moonbag.StopFraction >= 100 {
			errs = append(errs, "strategy: moonbag.stop_fraction must be in [0,100)")
		}
	}

	// Trade
	if c.Trade.MaxSlippageBps < 0 || c.Trade.MaxSlippageBps > 10000 {
		errs = append(errs, fmt.Sprintf("trade: max_slippage_bps must be in [0,10000], got %d", c.Trade.MaxSlippageBps))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
