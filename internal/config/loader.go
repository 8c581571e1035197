package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RpcURL, "COPYBOT_SOLANA_RPC_URL")
	setStr(&cfg.Solana.WalletAddress, "COPYBOT_SOLANA_WALLET_ADDRESS")
	setStr(&cfg.Solana.JupiterHost, "COPYBOT_SOLANA_JUPITER_HOST")
	setStr(&cfg.Solana.PriceHost, "COPYBOT_SOLANA_PRICE_HOST")
	setStr(&cfg.Solana.RelayHost, "COPYBOT_SOLANA_RELAY_HOST")
	setStr(&cfg.Solana.RelayAPIKey, "COPYBOT_SOLANA_RELAY_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "COPYBOT_REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COPYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COPYBOT_S3_FORCE_PATH_STYLE")

	// ── Executor ──
	setStr(&cfg.Executor.WorkerID, "COPYBOT_EXECUTOR_WORKER_ID")
	setInt(&cfg.Executor.MaxConcurrent, "COPYBOT_EXECUTOR_MAX_CONCURRENT")
	setInt(&cfg.Executor.MaxAttempts, "COPYBOT_EXECUTOR_MAX_ATTEMPTS")
	setDuration(&cfg.Executor.LeaseTTL, "COPYBOT_EXECUTOR_LEASE_TTL")
	setDuration(&cfg.Executor.ReclaimInterval, "COPYBOT_EXECUTOR_RECLAIM_INTERVAL")
	setDuration(&cfg.Executor.RpcMinInterval, "COPYBOT_EXECUTOR_RPC_MIN_INTERVAL")

	// ── Monitor ──
	setDuration(&cfg.Monitor.Interval, "COPYBOT_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.FetchConcurrency, "COPYBOT_MONITOR_FETCH_CONCURRENCY")
	setBool(&cfg.Monitor.LeaderElection, "COPYBOT_MONITOR_LEADER_ELECTION")
	setDuration(&cfg.Monitor.LeaderTTL, "COPYBOT_MONITOR_LEADER_TTL")
	setDuration(&cfg.Monitor.PriceCacheTTL, "COPYBOT_MONITOR_PRICE_CACHE_TTL")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.BasePositionPct, "COPYBOT_SIZING_BASE_POSITION_PCT")
	setFloat64(&cfg.Sizing.MinPositionSol, "COPYBOT_SIZING_MIN_POSITION_SOL")
	setFloat64(&cfg.Sizing.MaxPositionSol, "COPYBOT_SIZING_MAX_POSITION_SOL")
	setFloat64(&cfg.Sizing.HighConvictionThreshold, "COPYBOT_SIZING_HIGH_CONVICTION_THRESHOLD")
	setFloat64(&cfg.Sizing.MinConvictionThreshold, "COPYBOT_SIZING_MIN_CONVICTION_THRESHOLD")
	setFloat64(&cfg.Sizing.HighConvictionMultiplier, "COPYBOT_SIZING_HIGH_CONVICTION_MULTIPLIER")
	setFloat64(&cfg.Sizing.StandardMultiplier, "COPYBOT_SIZING_STANDARD_MULTIPLIER")
	setInt(&cfg.Sizing.MaxConcurrentPositions, "COPYBOT_SIZING_MAX_CONCURRENT_POSITIONS")
	setFloat64(&cfg.Sizing.MaxCapitalAllocationPct, "COPYBOT_SIZING_MAX_CAPITAL_ALLOCATION_PCT")
	setFloat64(&cfg.Sizing.ReserveSol, "COPYBOT_SIZING_RESERVE_SOL")

	// ── Strategy ──
	setStr(&cfg.Strategy.ID, "COPYBOT_STRATEGY_ID")
	setFloat64(&cfg.Strategy.StopLossPct, "COPYBOT_STRATEGY_STOP_LOSS_PCT")
	setBool(&cfg.Strategy.Trailing.Enabled, "COPYBOT_STRATEGY_TRAILING_ENABLED")
	setFloat64(&cfg.Strategy.Trailing.ActivationMultiplier, "COPYBOT_STRATEGY_TRAILING_ACTIVATION_MULTIPLIER")
	setFloat64(&cfg.Strategy.Trailing.DistancePct, "COPYBOT_STRATEGY_TRAILING_DISTANCE_PCT")
	setBool(&cfg.Strategy.Moonbag.Enabled, "COPYBOT_STRATEGY_MOONBAG_ENABLED")
	setFloat64(&cfg.Strategy.Moonbag.Percent, "COPYBOT_STRATEGY_MOONBAG_PERCENT")
	setFloat64(&cfg.Strategy.Moonbag.StopFraction, "COPYBOT_STRATEGY_MOONBAG_STOP_FRACTION")

	// ── Trade ──
	setInt(&cfg.Trade.MaxSlippageBps, "COPYBOT_TRADE_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Trade.ReducedModeFactor, "COPYBOT_TRADE_REDUCED_MODE_FACTOR")
	setBool(&cfg.Trade.Simulated, "COPYBOT_TRADE_SIMULATED")
	setFloat64(&cfg.Trade.PaperBalanceSol, "COPYBOT_TRADE_PAPER_BALANCE_SOL")

	// ── Alerts ──
	setDuration(&cfg.Alerts.DedupeWindow, "COPYBOT_ALERTS_DEDUPE_WINDOW")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "COPYBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "COPYBOT_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
