package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/exits"
)

// TradeConfig holds the trade orchestration parameters.
type TradeConfig struct {
	// StrategyID selects the exit strategy assigned to new positions.
	StrategyID string
	// MaxSlippageBps caps entry order slippage.
	MaxSlippageBps int
	// ReducedModeFactor scales the sized amount when the risk manager answers
	// reduced mode. 0.5 halves it.
	ReducedModeFactor float64
	// Simulated marks created orders as paper trades.
	Simulated bool
}

// TradeService runs a wallet signal through risk gating and sizing and, when
// both approve, submits the entry order. After fills it maintains position
// state: entry fills open a position with freshly calculated exit levels,
// exit fills reduce or close one.
type TradeService struct {
	cfg        TradeConfig
	risk       *RiskService
	sizing     *SizingService
	balances   domain.BalanceSource
	submitter  domain.OrderSubmitter
	positions  domain.PositionStore
	orders     domain.OrderStore
	strategies map[string]domain.ExitStrategy
	fallback   domain.ExitStrategy
	logger     *slog.Logger

	// tier decided at signal time, recalled when the entry fills
	mu          sync.Mutex
	pendingTier map[string]domain.ConvictionTier
}

var _ domain.FillApplier = (*TradeService)(nil)

// NewTradeService creates a TradeService.
func NewTradeService(
	cfg TradeConfig,
	risk *RiskService,
	sizing *SizingService,
	balances domain.BalanceSource,
	submitter domain.OrderSubmitter,
	positions domain.PositionStore,
	orders domain.OrderStore,
	strategies map[string]domain.ExitStrategy,
	fallback domain.ExitStrategy,
	logger *slog.Logger,
) *TradeService {
	if cfg.ReducedModeFactor <= 0 || cfg.ReducedModeFactor > 1 {
		cfg.ReducedModeFactor = 0.5
	}
	return &TradeService{
		cfg:         cfg,
		risk:        risk,
		sizing:      sizing,
		balances:    balances,
		submitter:   submitter,
		positions:   positions,
		orders:      orders,
		strategies:  strategies,
		fallback:    fallback,
		logger:      logger.With(slog.String("component", "trade")),
		pendingTier: make(map[string]domain.ConvictionTier),
	}
}

// HandleSignal runs the full entry pipeline for one wallet signal. A skipped
// or blocked signal returns nil: not trading is a normal outcome, not an
// error.
func (s *TradeService) HandleSignal(ctx context.Context, sig domain.WalletSignal) error {
	log := s.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("token", sig.TokenSymbol),
		slog.Float64("score", sig.Score),
	)

	balance, err := s.balances.AvailableSol(ctx)
	if err != nil {
		return fmt.Errorf("trade_service: fetch balance: %w", err)
	}

	check, err := s.risk.CheckEntryAllowed(ctx, sig.Score, balance)
	if err != nil {
		return fmt.Errorf("trade_service: risk check: %w", err)
	}
	if !check.Allowed() {
		log.InfoContext(ctx, "entry blocked", slog.String("reason", check.Reason))
		return nil
	}

	allocated, openCount, err := s.risk.AllocatedSol(ctx)
	if err != nil {
		return fmt.Errorf("trade_service: allocated capital: %w", err)
	}

	res, err := s.sizing.CalculateSize(ctx, domain.PositionSizeRequest{
		SignalID:            sig.ID,
		SignalScore:         sig.Score,
		AvailableBalanceSol: balance,
		OpenPositionCount:   openCount,
		AllocatedSol:        allocated,
	})
	if err != nil {
		return fmt.Errorf("trade_service: sizing: %w", err)
	}
	if !res.ShouldTrade() {
		log.InfoContext(ctx, "entry skipped", slog.String("decision", string(res.Decision)))
		return nil
	}

	size := res.FinalSizeSol
	if check.Mode == SizingModeReduced {
		size *= s.cfg.ReducedModeFactor
		if size < s.sizing.Config().MinPositionSol {
			size = s.sizing.Config().MinPositionSol
		}
		log.InfoContext(ctx, "entry size reduced by risk mode",
			slog.String("reason", check.Reason),
			slog.Float64("size_sol", size),
		)
	}

	order := domain.NewEntryOrder(sig.ID, sig.TokenMint, sig.TokenSymbol, size, sig.PriceSol, s.cfg.MaxSlippageBps)
	order.Simulated = s.cfg.Simulated
	if err := s.submitter.Submit(ctx, order, false); err != nil {
		return fmt.Errorf("trade_service: submit entry order: %w", err)
	}

	s.mu.Lock()
	s.pendingTier[sig.ID] = res.Tier
	s.mu.Unlock()

	log.InfoContext(ctx, "entry order submitted",
		slog.String("order_id", order.ID),
		slog.Float64("size_sol", size),
		slog.String("tier", string(res.Tier)),
	)
	return nil
}

// ApplyFill absorbs a filled order into position state. It is idempotent:
// re-delivery of the same fill (lease expiry can cause it) is a no-op.
func (s *TradeService) ApplyFill(ctx context.Context, o *domain.Order) error {
	switch o.Type {
	case domain.OrderTypeEntry:
		return s.applyEntryFill(ctx, o)
	case domain.OrderTypeExit:
		return s.applyExitFill(ctx, o)
	default:
		return fmt.Errorf("trade_service: unknown order type %q", o.Type)
	}
}

func (s *TradeService) applyEntryFill(ctx context.Context, o *domain.Order) error {
	if o.PositionID != "" {
		// Position already opened for this order.
		return nil
	}

	strategy := s.strategyFor(s.cfg.StrategyID)
	levels, err := exits.CalculateLevels(o.ActualPrice, strategy)
	if err != nil {
		return fmt.Errorf("trade_service: levels for order %s: %w", o.ID, err)
	}

	s.mu.Lock()
	tier, ok := s.pendingTier[o.SignalID]
	delete(s.pendingTier, o.SignalID)
	s.mu.Unlock()
	if !ok {
		// Process restarted between submit and fill; tier context is gone.
		tier = domain.ConvictionStandard
	}

	pos := domain.NewPosition(o, strategy.ID, tier, levels)
	if err := s.positions.Create(ctx, pos); err != nil {
		return fmt.Errorf("trade_service: create position: %w", err)
	}

	o.PositionID = pos.ID
	if err := s.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("trade_service: link order %s to position: %w", o.ID, err)
	}

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("token", pos.TokenSymbol),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("tokens", pos.EntryTokens),
		slog.String("tier", string(tier)),
	)
	return nil
}

func (s *TradeService) applyExitFill(ctx context.Context, o *domain.Order) error {
	if o.PositionID == "" {
		return fmt.Errorf("trade_service: exit order %s has no position", o.ID)
	}
	pos, err := s.positions.GetByID(ctx, o.PositionID)
	if err != nil {
		return fmt.Errorf("trade_service: get position %s: %w", o.PositionID, err)
	}

	for _, fid := range pos.ExitFillIDs {
		if fid == o.ID {
			return nil // fill already applied
		}
	}
	if pos.IsClosed() {
		return nil
	}

	sold := o.AmountTokens
	if sold > pos.TokensLeft {
		sold = pos.TokensLeft
	}

	// A fill that drains the position closes it no matter which exit it came
	// from; a drained book entry stuck in PARTIAL_EXIT would never be
	// monitored again.
	if sold >= pos.TokensLeft {
		if err := pos.Close(o.ExitReason, o.ActualPrice, o.ID); err != nil {
			return fmt.Errorf("trade_service: close position %s: %w", pos.ID, err)
		}
		s.logger.InfoContext(ctx, "position closed",
			slog.String("position_id", pos.ID),
			slog.String("reason", pos.ExitReason),
			slog.Float64("realized_pnl", pos.RealizedPnl),
		)
	} else {
		if err := pos.ApplyPartialExit(sold, o.ActualPrice, o.ID); err != nil {
			return fmt.Errorf("trade_service: partial exit on %s: %w", pos.ID, err)
		}
		s.logger.InfoContext(ctx, "partial exit applied",
			slog.String("position_id", pos.ID),
			slog.String("reason", o.ExitReason),
			slog.Float64("tokens_sold", sold),
			slog.Float64("tokens_left", pos.TokensLeft),
		)
	}

	if err := s.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("trade_service: persist position %s: %w", pos.ID, err)
	}
	return nil
}

func (s *TradeService) strategyFor(id string) domain.ExitStrategy {
	if st, ok := s.strategies[id]; ok {
		return st
	}
	return s.fallback
}
