package exits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// Manager evaluates priced positions against their exit levels and submits
// the resulting exit orders. Evaluation order per tick: stop-loss, then
// trailing stop, then the take-profit ladder. A position whose stop fired
// submits only that one protective exit; take-profit rungs are otherwise
// all submitted in the same tick when a gap clears several at once.
//
// Rungs and stops fire at most once: rungs are flagged triggered at submit
// time, and a position enters CLOSING (or MOONBAG) as soon as its final exit
// is in flight, which removes it from the monitorable set.
type Manager struct {
	positions  domain.PositionStore
	orders     domain.OrderSubmitter
	alerts     domain.AlertService
	strategies map[string]domain.ExitStrategy
	fallback   domain.ExitStrategy
	logger     *slog.Logger
}

var _ domain.ExitManager = (*Manager)(nil)

// NewManager creates an exit manager. strategies maps strategy id to its rule
// set; fallback is used for positions whose strategy id is unknown.
func NewManager(
	positions domain.PositionStore,
	orders domain.OrderSubmitter,
	alerts domain.AlertService,
	strategies map[string]domain.ExitStrategy,
	fallback domain.ExitStrategy,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		positions:  positions,
		orders:     orders,
		alerts:     alerts,
		strategies: strategies,
		fallback:   fallback,
		logger:     logger.With(slog.String("component", "exits")),
	}
}

func (m *Manager) strategyFor(pos *domain.Position) domain.ExitStrategy {
	if s, ok := m.strategies[pos.ExitStrategy]; ok {
		return s
	}
	return m.fallback
}

// ProcessPosition records the price observation, advances the trailing stop,
// and submits whatever exits the new price warrants. The position is
// persisted exactly once at the end, whether or not anything fired.
func (m *Manager) ProcessPosition(ctx context.Context, pos *domain.Position, price float64) error {
	if !pos.IsMonitorable() || pos.TokensLeft <= 0 {
		return nil
	}
	log := m.logger.With(
		slog.String("position_id", pos.ID),
		slog.String("token", pos.TokenSymbol),
	)

	pos.ObservePrice(price)
	strat := m.strategyFor(pos)
	RecalculateTrailingStop(&pos.Levels, price, strat.TrailingStop)

	var actErr error
	switch {
	case pos.Status == domain.PositionStatusMoonbag:
		if MoonbagStopHit(&pos.Levels, price) {
			actErr = m.submitFullExit(ctx, pos, price, domain.ExitReasonMoonbagStop, log)
		}
	case StopLossHit(&pos.Levels, price):
		actErr = m.submitFullExit(ctx, pos, price, domain.ExitReasonStopLoss, log)
	case TrailingStopHit(&pos.Levels, price):
		actErr = m.submitTrailingExit(ctx, pos, price, strat, log)
	default:
		actErr = m.submitTakeProfits(ctx, pos, price, strat, log)
	}

	if actErr != nil && m.alerts != nil {
		// The untriggered level retries next tick, but the operator should
		// know exits are not getting through.
		_ = m.alerts.CreateAlert(ctx, domain.AlertWarning, "exit submit failed",
			actErr.Error(),
			map[string]any{"position_id": pos.ID, "token": pos.TokenSymbol, "price": price},
			false, "exit_submit:"+pos.ID)
	}

	if err := m.positions.Update(ctx, pos); err != nil {
		return fmt.Errorf("exits: persist position %s: %w", pos.ID, err)
	}
	return actErr
}

// submitFullExit sells everything left and moves the position to CLOSING.
func (m *Manager) submitFullExit(ctx context.Context, pos *domain.Position, price float64, reason string, log *slog.Logger) error {
	o := domain.NewExitOrder(pos, pos.TokensLeft, price, reason)
	if err := m.orders.Submit(ctx, o, true); err != nil {
		return fmt.Errorf("exits: submit %s exit for position %s: %w", reason, pos.ID, err)
	}
	if err := pos.BeginClose(); err != nil {
		return err
	}
	log.Warn("protective exit submitted",
		slog.String("reason", reason),
		slog.Float64("price", price),
		slog.Float64("tokens", o.AmountTokens),
	)
	return nil
}

// submitTrailingExit sells the position down to its moonbag reserve, or
// everything when no moonbag is configured.
func (m *Manager) submitTrailingExit(ctx context.Context, pos *domain.Position, price float64, strat domain.ExitStrategy, log *slog.Logger) error {
	reserve := 0.0
	if strat.Moonbag.Enabled {
		reserve = pos.EntryTokens * strat.Moonbag.Percent
		if reserve > pos.TokensLeft {
			reserve = pos.TokensLeft
		}
	}
	sell := pos.TokensLeft - reserve
	if sell <= 0 {
		// Nothing above the reserve; the residual just becomes the moonbag.
		return pos.ConvertToMoonbag(strat.Moonbag.Percent)
	}

	o := domain.NewExitOrder(pos, sell, price, domain.ExitReasonTrailingStop)
	if err := m.orders.Submit(ctx, o, true); err != nil {
		return fmt.Errorf("exits: submit trailing exit for position %s: %w", pos.ID, err)
	}
	log.Info("trailing stop exit submitted",
		slog.Float64("price", price),
		slog.Float64("trailing_stop", pos.Levels.TrailingStopPrice),
		slog.Float64("tokens", sell),
		slog.Float64("moonbag_reserve", reserve),
	)
	if reserve > 0 {
		return pos.ConvertToMoonbag(strat.Moonbag.Percent)
	}
	return pos.BeginClose()
}

// submitTakeProfits fires every untriggered rung the price has reached. Each
// rung sells its percentage of the tokens remaining at submit time; when the
// ladder is exhausted the residual converts to a moonbag or closes out.
func (m *Manager) submitTakeProfits(ctx context.Context, pos *domain.Position, price float64, strat domain.ExitStrategy, log *slog.Logger) error {
	hits := TriggeredTakeProfits(&pos.Levels, price)
	if len(hits) == 0 {
		return nil
	}

	now := time.Now().UTC()
	remaining := pos.TokensLeft
	for _, tp := range hits {
		sell := remaining * tp.SellPct / 100
		if sell <= 0 {
			tp.Trigger(now)
			continue
		}
		if sell > remaining {
			sell = remaining
		}
		o := domain.NewExitOrder(pos, sell, price, domain.ExitReasonTakeProfit)
		if err := m.orders.Submit(ctx, o, false); err != nil {
			// Leave the rung untriggered so the next tick retries it.
			return fmt.Errorf("exits: submit take-profit %.2fx for position %s: %w", tp.TriggerMultiplier, pos.ID, err)
		}
		tp.Trigger(now)
		remaining -= sell
		log.Info("take-profit exit submitted",
			slog.Float64("trigger_multiplier", tp.TriggerMultiplier),
			slog.Float64("price", price),
			slog.Float64("tokens", sell),
		)
	}

	if pos.Levels.NextUntriggered() != nil {
		return nil
	}
	// Ladder exhausted. Whatever the fills leave behind is either a moonbag
	// or dust to close out.
	if strat.Moonbag.Enabled {
		return pos.ConvertToMoonbag(strat.Moonbag.Percent)
	}
	if remaining > 0 {
		o := domain.NewExitOrder(pos, remaining, price, domain.ExitReasonTakeProfit)
		if err := m.orders.Submit(ctx, o, false); err != nil {
			return fmt.Errorf("exits: submit final exit for position %s: %w", pos.ID, err)
		}
	}
	return pos.BeginClose()
}
