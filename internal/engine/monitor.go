package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/throttle"
)

// MonitorConfig holds the price monitor's tunables.
type MonitorConfig struct {
	// Interval is the tick period between monitoring passes.
	Interval time.Duration
	// FetchConcurrency bounds parallel price fetches within one tick.
	FetchConcurrency int
	// LeaderTTL is the leader lease duration. It should exceed the tick
	// interval so the lease never lapses between renewals.
	LeaderTTL time.Duration
	// PriceCacheTTL is how long fetched prices stay valid in the shared cache.
	PriceCacheTTL time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.LeaderTTL <= 0 {
		c.LeaderTTL = 30 * time.Second
	}
	if c.PriceCacheTTL <= 0 {
		c.PriceCacheTTL = 30 * time.Second
	}
}

// MonitorStats is an observability snapshot of the monitoring loop.
type MonitorStats struct {
	Running        bool
	Ticks          uint64
	LastTick       time.Time
	LastPositions  int
	LastTokens     int
	FetchFailures  uint64
	ProcessErrors  uint64
	SkippedNoPrice uint64
}

// PriceMonitor periodically fetches prices for every token with an open
// position and hands each position to the exit manager. One fetch per token
// per tick regardless of how many positions hold it; a failed fetch skips
// that token's positions for the tick and they are retried on the next one.
type PriceMonitor struct {
	cfg       MonitorConfig
	positions domain.PositionStore
	prices    domain.TokenPriceSource
	exits     domain.ExitManager
	cache     domain.PriceCache
	lease     domain.LeaderLease
	rpc       *throttle.Throttle
	logger    *slog.Logger

	// leading tracks whether this instance holds the leader lease. Touched
	// only from the loop goroutine.
	leading bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ticks          atomic.Uint64
	fetchFailures  atomic.Uint64
	processErrors  atomic.Uint64
	skippedNoPrice atomic.Uint64

	lastMu        sync.Mutex
	lastTick      time.Time
	lastPositions int
	lastTokens    int
}

// NewPriceMonitor creates a monitor. The cache and leader lease are optional;
// pass nil to run unleadered with no shared price cache.
func NewPriceMonitor(
	cfg MonitorConfig,
	positions domain.PositionStore,
	prices domain.TokenPriceSource,
	exits domain.ExitManager,
	cache domain.PriceCache,
	lease domain.LeaderLease,
	rpc *throttle.Throttle,
	logger *slog.Logger,
) *PriceMonitor {
	cfg.applyDefaults()
	return &PriceMonitor{
		cfg:       cfg,
		positions: positions,
		prices:    prices,
		exits:     exits,
		cache:     cache,
		lease:     lease,
		rpc:       rpc,
		logger:    logger.With(slog.String("component", "monitor")),
	}
}

// Start launches the monitoring loop. Calling Start while already running is
// a no-op.
func (m *PriceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.logger.Warn("start called while already running")
		return
	}
	m.running = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLoop(runCtx)
	}()
	m.logger.Info("price monitor started", slog.Duration("interval", m.cfg.Interval))
}

// Stop cancels the loop and waits for the in-progress tick to finish.
func (m *PriceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("price monitor stopped", slog.Uint64("ticks", m.ticks.Load()))
}

// Stats returns a point-in-time snapshot of monitor counters.
func (m *PriceMonitor) Stats() MonitorStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	m.lastMu.Lock()
	defer m.lastMu.Unlock()
	return MonitorStats{
		Running:        running,
		Ticks:          m.ticks.Load(),
		LastTick:       m.lastTick,
		LastPositions:  m.lastPositions,
		LastTokens:     m.lastTokens,
		FetchFailures:  m.fetchFailures.Load(),
		ProcessErrors:  m.processErrors.Load(),
		SkippedNoPrice: m.skippedNoPrice.Load(),
	}
}

func (m *PriceMonitor) runLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	defer m.releaseLease(ctx)

	// Run one pass immediately instead of waiting a full interval.
	m.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// renewLease keeps the leader lease current: a holder extends its TTL, a
// follower tries to take the lease over. A holder whose lease lapsed
// contends for it again immediately, since the previous leader may just
// have shut down.
func (m *PriceMonitor) renewLease(ctx context.Context) error {
	if m.leading {
		err := m.lease.Extend(ctx, m.cfg.LeaderTTL)
		if err == nil {
			return nil
		}
		m.leading = false
		if !errors.Is(err, domain.ErrLeaseExpired) {
			return err
		}
	}

	if err := m.lease.Acquire(ctx, m.cfg.LeaderTTL); err != nil {
		return err
	}
	m.leading = true
	m.logger.Info("monitor leader lease acquired")
	return nil
}

// releaseLease hands the lease back on shutdown so a standby instance can
// take over without waiting for the TTL to lapse.
func (m *PriceMonitor) releaseLease(ctx context.Context) {
	if m.lease == nil || !m.leading {
		return
	}
	m.leading = false

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.lease.Release(releaseCtx); err != nil {
		m.logger.Warn("leader lease release failed", slog.String("error", err.Error()))
	}
}

// tick runs one monitoring pass. Every error is contained: a bad token or a
// bad position never stops the loop or the rest of the pass.
func (m *PriceMonitor) tick(ctx context.Context) {
	if m.lease != nil {
		if err := m.renewLease(ctx); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				m.logger.Debug("another instance holds the monitor lease, skipping tick")
			} else {
				m.logger.Error("leader lease renewal failed", slog.String("error", err.Error()))
			}
			return
		}
	}

	m.ticks.Add(1)

	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		m.logger.Error("list open positions failed", slog.String("error", err.Error()))
		return
	}

	monitorable := open[:0:0]
	for _, p := range open {
		if p.IsMonitorable() {
			monitorable = append(monitorable, p)
		}
	}

	byMint := make(map[string][]*domain.Position)
	for _, p := range monitorable {
		byMint[p.TokenMint] = append(byMint[p.TokenMint], p)
	}

	m.lastMu.Lock()
	m.lastTick = time.Now().UTC()
	m.lastPositions = len(monitorable)
	m.lastTokens = len(byMint)
	m.lastMu.Unlock()

	if len(byMint) == 0 {
		return
	}

	prices := m.fetchPrices(ctx, byMint)

	for mint, group := range byMint {
		price, ok := prices[mint]
		if !ok {
			m.skippedNoPrice.Add(uint64(len(group)))
			continue
		}
		for _, p := range group {
			if err := m.exits.ProcessPosition(ctx, p, price); err != nil {
				m.processErrors.Add(1)
				m.logger.Error("exit processing failed",
					slog.String("position_id", p.ID),
					slog.String("token", p.TokenSymbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// fetchPrices fetches one price per distinct mint with bounded concurrency
// and records them in the shared cache. Mints whose fetch failed are absent
// from the result.
func (m *PriceMonitor) fetchPrices(ctx context.Context, byMint map[string][]*domain.Position) map[string]float64 {
	var (
		mu     sync.Mutex
		result = make(map[string]float64, len(byMint))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FetchConcurrency)
	for mint := range byMint {
		mint := mint
		g.Go(func() error {
			if m.rpc != nil {
				if err := m.rpc.Wait(gctx); err != nil {
					return nil //nolint:nilerr // shutdown, not a fetch failure
				}
			}
			price, err := m.prices.FetchPrice(gctx, mint)
			if err != nil {
				m.fetchFailures.Add(1)
				m.logger.Warn("price fetch failed",
					slog.String("mint", mint),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			result[mint] = price
			mu.Unlock()
			if m.cache != nil {
				if err := m.cache.SetPrice(gctx, mint, price, m.cfg.PriceCacheTTL); err != nil {
					m.logger.Debug("price cache write failed", slog.String("error", err.Error()))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// CheckSinglePosition fetches a fresh price for one position and runs it
// through the exit manager immediately, outside the tick cadence.
func (m *PriceMonitor) CheckSinglePosition(ctx context.Context, positionID string) error {
	p, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return fmt.Errorf("engine: get position %s: %w", positionID, err)
	}
	if !p.IsMonitorable() {
		return fmt.Errorf("engine: position %s is %s: %w", positionID, p.Status, domain.ErrTerminalOrder)
	}
	if m.rpc != nil {
		if err := m.rpc.Wait(ctx); err != nil {
			return err
		}
	}
	price, err := m.prices.FetchPrice(ctx, p.TokenMint)
	if err != nil {
		return fmt.Errorf("engine: fetch price for %s: %w", p.TokenMint, err)
	}
	return m.exits.ProcessPosition(ctx, p, price)
}
