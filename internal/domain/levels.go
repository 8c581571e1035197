package domain

import "time"

// TakeProfitLevel is a computed take-profit rung attached to a position.
// IsTriggered flips from false to true exactly once and stays true.
type TakeProfitLevel struct {
	TriggerMultiplier float64
	TriggerPrice      float64
	SellPct           float64
	IsTriggered       bool
	TriggeredAt       *time.Time
}

// Trigger marks the level as hit. It is a no-op once triggered.
func (l *TakeProfitLevel) Trigger(at time.Time) {
	if l.IsTriggered {
		return
	}
	l.IsTriggered = true
	t := at.UTC()
	l.TriggeredAt = &t
}

// PositionLevels holds the static and trailing exit prices computed for a
// position from its entry price and assigned exit strategy.
type PositionLevels struct {
	EntryPrice    float64
	StopLossPrice float64
	TakeProfits   []TakeProfitLevel

	TrailingActivationPrice float64 // 0 when trailing is disabled
	TrailingStopPrice       float64 // 0 until activated; never decreases after

	MoonbagStopPrice float64 // 0 when the moonbag carries no stop
}

// TrailingActive reports whether the trailing stop has engaged.
func (pl *PositionLevels) TrailingActive() bool {
	return pl.TrailingStopPrice > 0
}

// NextUntriggered returns the lowest take-profit level not yet hit, or nil
// when the ladder is exhausted.
func (pl *PositionLevels) NextUntriggered() *TakeProfitLevel {
	for i := range pl.TakeProfits {
		if !pl.TakeProfits[i].IsTriggered {
			return &pl.TakeProfits[i]
		}
	}
	return nil
}
