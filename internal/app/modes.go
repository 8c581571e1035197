package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/engine"
	"github.com/solwatch/copybot/internal/exits"
	"github.com/solwatch/copybot/internal/feed"
	"github.com/solwatch/copybot/internal/service"
	"github.com/solwatch/copybot/internal/throttle"
)

// lateSubmitter breaks the construction cycle between the trade service and
// the executor: the trade service submits entries through the executor, and
// the executor reports fills back to the trade service. The exec field is set
// once during wiring, before any loop starts.
type lateSubmitter struct {
	exec *engine.QueuedExecutor
}

var _ domain.OrderSubmitter = (*lateSubmitter)(nil)

func (s *lateSubmitter) Submit(ctx context.Context, o *domain.Order, emergency bool) error {
	return s.exec.Submit(ctx, o, emergency)
}

// runMode builds the service graph on top of the wired dependencies and runs
// the loops the mode asks for. The executor always runs: entries come from
// the signal feed (trade) and exits from the price monitor (monitor), and
// both funnel through it.
func (a *App) runMode(ctx context.Context, deps *Dependencies, trade, monitor bool) error {
	strategy := exitStrategyFromConfig(a.cfg.Strategy)
	if err := strategy.Validate(); err != nil {
		return fmt.Errorf("app: exit strategy: %w", err)
	}
	strategies := map[string]domain.ExitStrategy{strategy.ID: strategy}
	sizingCfg := sizingFromConfig(a.cfg.Sizing)

	alertSvc := service.NewAlertService(service.AlertConfig{
		DedupeWindow: a.cfg.Alerts.DedupeWindow.Duration,
	}, deps.Alerts, deps.Notifier, a.logger)

	sizingSvc, err := service.NewSizingService(sizingCfg, deps.Audits, a.logger)
	if err != nil {
		return fmt.Errorf("app: sizing service: %w", err)
	}
	riskSvc := service.NewRiskService(sizingCfg, deps.Positions, a.logger)

	submitter := &lateSubmitter{}
	tradeSvc := service.NewTradeService(service.TradeConfig{
		StrategyID:        strategy.ID,
		MaxSlippageBps:    a.cfg.Trade.MaxSlippageBps,
		ReducedModeFactor: a.cfg.Trade.ReducedModeFactor,
		Simulated:         a.cfg.Trade.Simulated,
	}, riskSvc, sizingSvc, deps.Balance, submitter, deps.Positions, deps.Orders, strategies, strategy, a.logger)

	rpcThrottle := throttle.New(a.cfg.Executor.RpcMinInterval.Duration)
	queue := engine.NewPriorityQueue()
	exec := engine.NewQueuedExecutor(engine.ExecutorConfig{
		WorkerID:        workerID(a.cfg),
		MaxConcurrent:   a.cfg.Executor.MaxConcurrent,
		MaxAttempts:     a.cfg.Executor.MaxAttempts,
		LeaseTTL:        a.cfg.Executor.LeaseTTL.Duration,
		ReclaimInterval: a.cfg.Executor.ReclaimInterval.Duration,
	}, queue, deps.ExecClient, deps.Orders, alertSvc, tradeSvc, deps.SignalBus, rpcThrottle, a.logger)
	submitter.exec = exec

	exec.Start(ctx)
	defer exec.Stop()

	g, ctx := errgroup.WithContext(ctx)

	if monitor {
		exitMgr := exits.NewManager(deps.Positions, submitter, alertSvc, strategies, strategy, a.logger)

		mon := engine.NewPriceMonitor(engine.MonitorConfig{
			Interval:         a.cfg.Monitor.Interval.Duration,
			FetchConcurrency: a.cfg.Monitor.FetchConcurrency,
			LeaderTTL:        a.cfg.Monitor.LeaderTTL.Duration,
			PriceCacheTTL:    a.cfg.Monitor.PriceCacheTTL.Duration,
		}, deps.Positions, deps.Prices, exitMgr, deps.PriceCache, deps.MonitorLease, rpcThrottle, a.logger)

		mon.Start(ctx)
		defer mon.Stop()

		reporter := service.NewReportService(
			deps.Positions, deps.PriceCache, service.NewStatusService(),
			deps.SignalBus, time.Minute, a.logger,
		)
		g.Go(func() error {
			return reporter.Run(ctx)
		})
	}

	if trade {
		signalFeed := feed.NewWalletFeed(deps.SignalBus, tradeSvc.HandleSignal, a.logger)
		g.Go(func() error {
			return signalFeed.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	if err := deps.Notifier.NotifyAll(ctx, "copybot started", "mode: "+a.cfg.Mode); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runArchiveLoop periodically exports closed positions and sizing audits
// older than the retention window to cold storage, then prunes the archived
// rows. Failures are logged and retried on the next cycle.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := a.logger.With(slog.String("component", "archive_loop"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-retention)

		if n, err := deps.Archiver.ArchivePositions(ctx, cutoff); err != nil {
			log.ErrorContext(ctx, "position archival failed", slog.String("error", err.Error()))
		} else if n > 0 {
			if _, err := deps.Archiver.PrunePositions(ctx, cutoff); err != nil {
				log.ErrorContext(ctx, "position prune failed", slog.String("error", err.Error()))
			}
			log.InfoContext(ctx, "positions archived", slog.Int64("count", n))
		}

		if n, err := deps.Archiver.ArchiveAudits(ctx, cutoff); err != nil {
			log.ErrorContext(ctx, "audit archival failed", slog.String("error", err.Error()))
		} else if n > 0 {
			if _, err := deps.Archiver.PruneAudits(ctx, cutoff); err != nil {
				log.ErrorContext(ctx, "audit prune failed", slog.String("error", err.Error()))
			}
			log.InfoContext(ctx, "audits archived", slog.Int64("count", n))
		}
	}
}
