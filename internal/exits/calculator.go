// Package exits computes and maintains the price levels at which a position
// is unwound: stop-loss, the take-profit ladder, the trailing stop, and the
// moonbag stop. Everything here is pure arithmetic on the entry price and the
// assigned exit strategy; nothing performs I/O.
package exits

import (
	"fmt"

	"github.com/solwatch/copybot/internal/domain"
)

// CalculateLevels derives the static exit prices for a position entered at
// entryPrice under the given strategy. Take-profit rungs keep the strategy's
// ascending trigger order; the strategy is validated first so a malformed
// ladder never produces levels.
func CalculateLevels(entryPrice float64, strategy domain.ExitStrategy) (domain.PositionLevels, error) {
	if entryPrice <= 0 {
		return domain.PositionLevels{}, fmt.Errorf("exits: entry price %.12f must be positive: %w", entryPrice, domain.ErrInvalidConfig)
	}
	if err := strategy.Validate(); err != nil {
		return domain.PositionLevels{}, fmt.Errorf("exits: strategy %s: %w", strategy.ID, err)
	}

	levels := domain.PositionLevels{
		EntryPrice:    entryPrice,
		StopLossPrice: entryPrice * (1 - strategy.StopLossFraction),
	}

	levels.TakeProfits = make([]domain.TakeProfitLevel, 0, len(strategy.TakeProfits))
	for _, rule := range strategy.TakeProfits {
		levels.TakeProfits = append(levels.TakeProfits, domain.TakeProfitLevel{
			TriggerMultiplier: rule.TriggerMultiplier,
			TriggerPrice:      entryPrice * rule.TriggerMultiplier,
			SellPct:           rule.SellPct,
		})
	}

	if strategy.TrailingStop.Enabled {
		levels.TrailingActivationPrice = entryPrice * strategy.TrailingStop.ActivationMultiplier
	}

	if strategy.Moonbag.Enabled && strategy.Moonbag.StopFraction > 0 {
		levels.MoonbagStopPrice = entryPrice * (1 - strategy.Moonbag.StopFraction)
	}

	return levels, nil
}

// RecalculateTrailingStop advances the trailing stop for a new price
// observation. Before the price reaches the activation level this is a no-op.
// On activation the trailing price is seeded at currentPrice*(1-distance);
// afterwards it is raised to that candidate whenever the candidate exceeds the
// stored trailing price, which happens exactly when currentPrice exceeds the
// peak implied by the previous trailing price. The trailing price therefore
// never decreases, and repeated calls with non-increasing prices leave it
// unchanged.
func RecalculateTrailingStop(levels *domain.PositionLevels, currentPrice float64, ts domain.TrailingStopConfig) {
	if !ts.Enabled || levels.TrailingActivationPrice <= 0 {
		return
	}
	if !levels.TrailingActive() && currentPrice < levels.TrailingActivationPrice {
		return
	}

	candidate := currentPrice * (1 - ts.DistancePct)
	if candidate > levels.TrailingStopPrice {
		levels.TrailingStopPrice = candidate
	}
}

// TrailingStopHit reports whether an active trailing stop has been breached.
func TrailingStopHit(levels *domain.PositionLevels, currentPrice float64) bool {
	return levels.TrailingActive() && currentPrice <= levels.TrailingStopPrice
}

// StopLossHit reports whether the static stop-loss has been breached.
func StopLossHit(levels *domain.PositionLevels, currentPrice float64) bool {
	return currentPrice <= levels.StopLossPrice
}

// MoonbagStopHit reports whether the moonbag's own stop has been breached.
// Positions without a moonbag stop never trigger it.
func MoonbagStopHit(levels *domain.PositionLevels, currentPrice float64) bool {
	return levels.MoonbagStopPrice > 0 && currentPrice <= levels.MoonbagStopPrice
}

// TriggeredTakeProfits returns the untriggered rungs whose trigger price the
// current price has reached, lowest first. The caller flips IsTriggered when
// it submits the corresponding exit so the rung fires at most once.
func TriggeredTakeProfits(levels *domain.PositionLevels, currentPrice float64) []*domain.TakeProfitLevel {
	var hit []*domain.TakeProfitLevel
	for i := range levels.TakeProfits {
		tp := &levels.TakeProfits[i]
		if !tp.IsTriggered && currentPrice >= tp.TriggerPrice {
			hit = append(hit, tp)
		}
	}
	return hit
}
