package domain

import (
	"fmt"
	"sort"
)

// TakeProfitRule is one rung of an exit ladder: when price reaches
// entry * TriggerMultiplier, sell SellPct percent of the remaining position.
type TakeProfitRule struct {
	TriggerMultiplier float64
	SellPct           float64
}

// TrailingStopConfig enables a stop that follows the peak price upward once
// price clears entry * ActivationMultiplier.
type TrailingStopConfig struct {
	Enabled              bool
	ActivationMultiplier float64
	DistancePct          float64 // fraction below peak, e.g. 0.15
}

// MoonbagConfig retains a residual fraction of the position after the normal
// ladder has played out, optionally protected by its own wider stop.
type MoonbagConfig struct {
	Enabled      bool
	Percent      float64 // fraction of the original position kept, e.g. 0.10
	StopFraction float64 // 0 disables the moonbag stop
}

// ExitStrategy is the externally assigned exit rule set for a position. It is
// a value object: the engine never mutates it after assignment.
type ExitStrategy struct {
	ID               string
	Name             string
	StopLossFraction float64 // fraction below entry, e.g. 0.5
	TakeProfits      []TakeProfitRule
	TrailingStop     TrailingStopConfig
	Moonbag          MoonbagConfig
}

// Validate checks the strategy for malformed values. Take-profit rules must be
// strictly ascending by trigger multiplier.
func (s ExitStrategy) Validate() error {
	if s.StopLossFraction < 0 || s.StopLossFraction >= 1 {
		return fmt.Errorf("%w: stop loss fraction %.4f out of (0,1)", ErrInvalidConfig, s.StopLossFraction)
	}
	if !sort.SliceIsSorted(s.TakeProfits, func(i, j int) bool {
		return s.TakeProfits[i].TriggerMultiplier < s.TakeProfits[j].TriggerMultiplier
	}) {
		return fmt.Errorf("%w: take-profit triggers not ascending", ErrInvalidConfig)
	}
	for i := 1; i < len(s.TakeProfits); i++ {
		if s.TakeProfits[i].TriggerMultiplier == s.TakeProfits[i-1].TriggerMultiplier {
			return fmt.Errorf("%w: duplicate take-profit trigger %.4f", ErrInvalidConfig, s.TakeProfits[i].TriggerMultiplier)
		}
	}
	for i, tp := range s.TakeProfits {
		if tp.TriggerMultiplier <= 1 {
			return fmt.Errorf("%w: take-profit trigger %.4f must exceed 1", ErrInvalidConfig, tp.TriggerMultiplier)
		}
		if tp.SellPct <= 0 || tp.SellPct > 100 {
			return fmt.Errorf("%w: take-profit sell pct %.2f out of (0,100]", ErrInvalidConfig, tp.SellPct)
		}
		if tp.SellPct >= 100 && i < len(s.TakeProfits)-1 {
			return fmt.Errorf("%w: take-profit rung %.4fx sells everything but later rungs remain", ErrInvalidConfig, tp.TriggerMultiplier)
		}
	}
	if s.TrailingStop.Enabled {
		if s.TrailingStop.ActivationMultiplier <= 1 {
			return fmt.Errorf("%w: trailing activation %.4f must exceed 1", ErrInvalidConfig, s.TrailingStop.ActivationMultiplier)
		}
		if s.TrailingStop.DistancePct <= 0 || s.TrailingStop.DistancePct >= 1 {
			return fmt.Errorf("%w: trailing distance %.4f out of (0,1)", ErrInvalidConfig, s.TrailingStop.DistancePct)
		}
	}
	if s.Moonbag.Enabled {
		if s.Moonbag.Percent <= 0 || s.Moonbag.Percent >= 1 {
			return fmt.Errorf("%w: moonbag percent %.4f out of (0,1)", ErrInvalidConfig, s.Moonbag.Percent)
		}
		if s.Moonbag.StopFraction < 0 || s.Moonbag.StopFraction >= 1 {
			return fmt.Errorf("%w: moonbag stop fraction %.4f out of [0,1)", ErrInvalidConfig, s.Moonbag.StopFraction)
		}
	}
	return nil
}
