package domain

import (
	"fmt"
	"time"
)

// SizingDecision is the outcome of one position-sizing request.
type SizingDecision string

const (
	SizingApproved         SizingDecision = "approved"
	SizingReduced          SizingDecision = "reduced"
	SizingSkippedLowScore  SizingDecision = "skipped_low_score"
	SizingSkippedMaxPos    SizingDecision = "skipped_max_positions"
	SizingSkippedNoBalance SizingDecision = "skipped_no_balance"
)

// PositionSizingConfig is an immutable sizing parameter set. A copy is
// snapshotted into every audit record so past decisions stay explainable
// after the live config changes.
type PositionSizingConfig struct {
	BasePositionPct float64 // percent of available balance per trade

	MinPositionSol float64
	MaxPositionSol float64

	HighConvictionThreshold  float64
	MinConvictionThreshold   float64
	HighConvictionMultiplier float64
	StandardMultiplier       float64

	MaxConcurrentPositions  int
	MaxCapitalAllocationPct float64
	ReserveSol              float64
}

// Validate checks internal consistency of the sizing parameters.
func (c PositionSizingConfig) Validate() error {
	if c.BasePositionPct <= 0 || c.BasePositionPct > 100 {
		return fmt.Errorf("%w: base position pct %.2f out of (0,100]", ErrInvalidConfig, c.BasePositionPct)
	}
	if c.MaxPositionSol < c.MinPositionSol {
		return fmt.Errorf("%w: max position %.4f below min %.4f", ErrInvalidConfig, c.MaxPositionSol, c.MinPositionSol)
	}
	if c.HighConvictionThreshold <= c.MinConvictionThreshold {
		return fmt.Errorf("%w: high conviction threshold %.2f must exceed min %.2f",
			ErrInvalidConfig, c.HighConvictionThreshold, c.MinConvictionThreshold)
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("%w: max concurrent positions must be positive", ErrInvalidConfig)
	}
	if c.MaxCapitalAllocationPct <= 0 || c.MaxCapitalAllocationPct > 100 {
		return fmt.Errorf("%w: max capital allocation pct %.2f out of (0,100]", ErrInvalidConfig, c.MaxCapitalAllocationPct)
	}
	if c.ReserveSol < 0 {
		return fmt.Errorf("%w: reserve balance cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// TierFor maps a signal score onto a conviction tier.
func (c PositionSizingConfig) TierFor(score float64) ConvictionTier {
	switch {
	case score >= c.HighConvictionThreshold:
		return ConvictionHigh
	case score >= c.MinConvictionThreshold:
		return ConvictionStandard
	default:
		return ConvictionNone
	}
}

// MultiplierFor returns the size multiplier for a tier.
func (c PositionSizingConfig) MultiplierFor(tier ConvictionTier) float64 {
	switch tier {
	case ConvictionHigh:
		return c.HighConvictionMultiplier
	case ConvictionStandard:
		return c.StandardMultiplier
	default:
		return 0
	}
}

// PositionSizeRequest carries the signal score and the live account state the
// sizer needs to make a decision. It is the sole contract with the scoring
// subsystem.
type PositionSizeRequest struct {
	SignalID            string
	SignalScore         float64
	AvailableBalanceSol float64
	OpenPositionCount   int
	AllocatedSol        float64
}

// PositionSizeResult is the sizer's answer: an approved (possibly reduced)
// size, or a skip with the gate that fired.
type PositionSizeResult struct {
	Decision SizingDecision
	Tier     ConvictionTier

	BaseSizeSol       float64
	Multiplier        float64
	CalculatedSizeSol float64
	FinalSizeSol      float64

	Reduced         bool
	ReductionReason string
}

// ShouldTrade reports whether the request survived every gate.
func (r PositionSizeResult) ShouldTrade() bool {
	return r.Decision == SizingApproved || r.Decision == SizingReduced
}

// PositionSizeAudit is an append-only record of one sizing decision: the
// inputs, a by-value snapshot of the config used, and the result. It is never
// mutated after creation.
type PositionSizeAudit struct {
	ID        string
	Request   PositionSizeRequest
	Config    PositionSizingConfig
	Result    PositionSizeResult
	CreatedAt time.Time
}
