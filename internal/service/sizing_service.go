package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solwatch/copybot/internal/domain"
)

// SizingService turns a signal score and the live account state into a
// position size. Every request is answered AND audited: the audit row carries
// the inputs, a by-value snapshot of the config in force, and the result, so
// a decision stays explainable after the config changes.
type SizingService struct {
	cfg    domain.PositionSizingConfig
	audits domain.SizingAuditStore
	logger *slog.Logger
}

// NewSizingService creates a SizingService. The config is validated once here
// and copied by value; later mutations by the caller are not observed.
func NewSizingService(
	cfg domain.PositionSizingConfig,
	audits domain.SizingAuditStore,
	logger *slog.Logger,
) (*SizingService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sizing_service: %w", err)
	}
	return &SizingService{
		cfg:    cfg,
		audits: audits,
		logger: logger.With(slog.String("component", "sizing")),
	}, nil
}

// Config returns the sizing parameters in force.
func (s *SizingService) Config() domain.PositionSizingConfig { return s.cfg }

// CalculateSize runs the sizing pipeline: conviction tier, base size and
// multiplier, clamp to the configured band, then the position-count and
// capital-allocation gates. The audit is written regardless of outcome; an
// audit write failure fails the request rather than producing an unaudited
// trade.
func (s *SizingService) CalculateSize(ctx context.Context, req domain.PositionSizeRequest) (domain.PositionSizeResult, error) {
	res := s.decide(req)

	audit := &domain.PositionSizeAudit{
		ID:        uuid.New().String(),
		Request:   req,
		Config:    s.cfg,
		Result:    res,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audits.Append(ctx, audit); err != nil {
		return domain.PositionSizeResult{}, fmt.Errorf("sizing_service: append audit: %w", err)
	}

	s.logger.InfoContext(ctx, "sizing decision",
		slog.String("signal_id", req.SignalID),
		slog.Float64("score", req.SignalScore),
		slog.String("decision", string(res.Decision)),
		slog.String("tier", string(res.Tier)),
		slog.Float64("final_size_sol", res.FinalSizeSol),
	)
	return res, nil
}

func (s *SizingService) decide(req domain.PositionSizeRequest) domain.PositionSizeResult {
	res := domain.PositionSizeResult{Tier: s.cfg.TierFor(req.SignalScore)}

	if res.Tier == domain.ConvictionNone {
		res.Decision = domain.SizingSkippedLowScore
		res.ReductionReason = fmt.Sprintf("score %.2f below min conviction threshold %.2f",
			req.SignalScore, s.cfg.MinConvictionThreshold)
		return res
	}

	res.BaseSizeSol = req.AvailableBalanceSol * s.cfg.BasePositionPct / 100
	res.Multiplier = s.cfg.MultiplierFor(res.Tier)
	res.CalculatedSizeSol = res.BaseSizeSol * res.Multiplier

	// Clamp to the configured band. Raising to the minimum is not a
	// reduction; only capping down to the maximum is.
	res.FinalSizeSol = res.CalculatedSizeSol
	if res.FinalSizeSol < s.cfg.MinPositionSol {
		res.FinalSizeSol = s.cfg.MinPositionSol
	}
	if res.FinalSizeSol > s.cfg.MaxPositionSol {
		res.FinalSizeSol = s.cfg.MaxPositionSol
		res.Reduced = true
		res.ReductionReason = fmt.Sprintf("calculated %.4f SOL capped at max position %.4f",
			res.CalculatedSizeSol, s.cfg.MaxPositionSol)
	}

	if req.OpenPositionCount >= s.cfg.MaxConcurrentPositions {
		res.Decision = domain.SizingSkippedMaxPos
		res.ReductionReason = fmt.Sprintf("open positions %d at limit %d",
			req.OpenPositionCount, s.cfg.MaxConcurrentPositions)
		res.FinalSizeSol = 0
		return res
	}

	ceiling := (req.AvailableBalanceSol - s.cfg.ReserveSol) * s.cfg.MaxCapitalAllocationPct / 100
	if req.AllocatedSol+res.FinalSizeSol > ceiling {
		res.Decision = domain.SizingSkippedNoBalance
		res.ReductionReason = fmt.Sprintf("allocated %.4f + size %.4f exceeds capital ceiling %.4f",
			req.AllocatedSol, res.FinalSizeSol, ceiling)
		res.FinalSizeSol = 0
		return res
	}

	if res.Reduced {
		res.Decision = domain.SizingReduced
	} else {
		res.Decision = domain.SizingApproved
	}
	return res
}
