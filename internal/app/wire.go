package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	s3blob "github.com/solwatch/copybot/internal/blob/s3"
	"github.com/solwatch/copybot/internal/cache/redis"
	"github.com/solwatch/copybot/internal/config"
	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/notify"
	"github.com/solwatch/copybot/internal/platform/jupiter"
	"github.com/solwatch/copybot/internal/platform/paper"
	"github.com/solwatch/copybot/internal/platform/relay"
	"github.com/solwatch/copybot/internal/platform/solana"
	"github.com/solwatch/copybot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the operating modes
// build their services on. Constructed by Wire, torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Audits    domain.SizingAuditStore
	Alerts    domain.AlertStore

	// Caches and coordination
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus
	// MonitorLease is nil unless monitor leader election is enabled.
	MonitorLease domain.LeaderLease

	// Platform clients
	Prices     domain.TokenPriceSource
	ExecClient domain.ExecutionClient
	Balance    domain.BalanceSource

	// Cold storage, nil unless archival is enabled
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs every concrete dependency from the configuration. The
// cleanup function releases connections in reverse construction order and
// must be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Postgres
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Audits = postgres.NewSizingAuditStore(pool)
	deps.Alerts = postgres.NewAlertStore(pool)

	// Redis
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Namespace:  cfg.Redis.Namespace,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	if cfg.Monitor.LeaderElection {
		deps.MonitorLease = redis.NewLeaderLease(redisClient, "monitor")
	}

	// Platform clients: prices always come from Jupiter; execution and
	// balance depend on whether this is a paper or a live deployment.
	jup := jupiter.NewClient(cfg.Solana.JupiterHost, cfg.Solana.PriceHost)
	deps.Prices = jup

	if cfg.Trade.Simulated {
		deps.ExecClient = paper.NewClient(jup, cfg.Trade.MaxSlippageBps)
		deps.Balance = paper.NewBalance(cfg.Trade.PaperBalanceSol, deps.Positions)
	} else {
		rpc := solana.NewRPCClient(cfg.Solana.RpcURL, cfg.Solana.WalletAddress)
		deps.ExecClient = relay.NewClient(cfg.Solana.RelayHost, cfg.Solana.RelayAPIKey, cfg.Solana.WalletAddress, jup, rpc)
		deps.Balance = rpc
	}

	// S3 cold storage, only when archival is on.
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Positions, deps.Audits)
	}

	// Notifications
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// workerID returns the configured worker identity or derives one from the
// hostname so leases are attributable across restarts and hosts.
func workerID(cfg *config.Config) string {
	if id := strings.TrimSpace(cfg.Executor.WorkerID); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "copybot"
	}
	return host + "-" + uuid.New().String()[:8]
}

// exitStrategyFromConfig converts the percent-based strategy configuration to
// the fraction-based domain value object.
func exitStrategyFromConfig(sc config.StrategyConfig) domain.ExitStrategy {
	rules := make([]domain.TakeProfitRule, 0, len(sc.TakeProfits))
	for _, tp := range sc.TakeProfits {
		rules = append(rules, domain.TakeProfitRule{
			TriggerMultiplier: tp.TriggerMultiplier,
			SellPct:           tp.SellPct,
		})
	}
	return domain.ExitStrategy{
		ID:               sc.ID,
		Name:             sc.Name,
		StopLossFraction: sc.StopLossPct / 100,
		TakeProfits:      rules,
		TrailingStop: domain.TrailingStopConfig{
			Enabled:              sc.Trailing.Enabled,
			ActivationMultiplier: sc.Trailing.ActivationMultiplier,
			DistancePct:          sc.Trailing.DistancePct / 100,
		},
		Moonbag: domain.MoonbagConfig{
			Enabled:      sc.Moonbag.Enabled,
			Percent:      sc.Moonbag.Percent / 100,
			StopFraction: sc.Moonbag.StopFraction / 100,
		},
	}
}

// sizingFromConfig maps the sizing section onto the immutable domain config.
func sizingFromConfig(sc config.SizingConfig) domain.PositionSizingConfig {
	return domain.PositionSizingConfig{
		BasePositionPct:          sc.BasePositionPct,
		MinPositionSol:           sc.MinPositionSol,
		MaxPositionSol:           sc.MaxPositionSol,
		HighConvictionThreshold:  sc.HighConvictionThreshold,
		MinConvictionThreshold:   sc.MinConvictionThreshold,
		HighConvictionMultiplier: sc.HighConvictionMultiplier,
		StandardMultiplier:       sc.StandardMultiplier,
		MaxConcurrentPositions:   sc.MaxConcurrentPositions,
		MaxCapitalAllocationPct:  sc.MaxCapitalAllocationPct,
		ReserveSol:               sc.ReserveSol,
	}
}
