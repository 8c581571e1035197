package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solwatch/copybot/internal/domain"
)

// SizingMode is the risk manager's verdict on a prospective entry.
type SizingMode string

const (
	SizingModeFull    SizingMode = "full"
	SizingModeReduced SizingMode = "reduced"
	SizingModeBlocked SizingMode = "blocked"
)

// EntryCheck is the risk manager's answer for one prospective entry.
type EntryCheck struct {
	Mode   SizingMode
	Reason string
}

// Allowed reports whether the entry may proceed at all.
func (c EntryCheck) Allowed() bool { return c.Mode != SizingModeBlocked }

// RiskService layers risk rules on top of the sizing contract. This is the
// seam where drawdown-based size reduction, daily-loss circuit breaking, and
// per-token concentration limits attach without changing the sizer itself;
// the core rules here are the position-count ceiling and the capital reserve.
type RiskService struct {
	cfg       domain.PositionSizingConfig
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewRiskService creates a RiskService sharing the sizer's parameter set.
func NewRiskService(
	cfg domain.PositionSizingConfig,
	positions domain.PositionStore,
	logger *slog.Logger,
) *RiskService {
	return &RiskService{
		cfg:       cfg,
		positions: positions,
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// CheckEntryAllowed decides whether a new entry may be opened right now and
// in what mode. It consults live position state; callers run it immediately
// before sizing so the two see the same book.
func (s *RiskService) CheckEntryAllowed(ctx context.Context, score, availableBalanceSol float64) (EntryCheck, error) {
	if tier := s.cfg.TierFor(score); tier == domain.ConvictionNone {
		return EntryCheck{
			Mode:   SizingModeBlocked,
			Reason: fmt.Sprintf("score %.2f below min conviction threshold %.2f", score, s.cfg.MinConvictionThreshold),
		}, nil
	}

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return EntryCheck{}, fmt.Errorf("risk_service: list open positions: %w", err)
	}
	if len(open) >= s.cfg.MaxConcurrentPositions {
		s.logger.WarnContext(ctx, "entry blocked: max positions reached",
			slog.Int("open", len(open)),
			slog.Int("max", s.cfg.MaxConcurrentPositions),
		)
		return EntryCheck{
			Mode:   SizingModeBlocked,
			Reason: fmt.Sprintf("max positions reached (%d/%d)", len(open), s.cfg.MaxConcurrentPositions),
		}, nil
	}

	if availableBalanceSol-s.cfg.ReserveSol < s.cfg.MinPositionSol {
		return EntryCheck{
			Mode:   SizingModeBlocked,
			Reason: fmt.Sprintf("balance %.4f minus reserve %.4f below min position %.4f",
				availableBalanceSol, s.cfg.ReserveSol, s.cfg.MinPositionSol),
		}, nil
	}

	// Near the position ceiling the book is already concentrated; hand the
	// sizer a reduced mode rather than full.
	if len(open)+1 == s.cfg.MaxConcurrentPositions {
		return EntryCheck{Mode: SizingModeReduced, Reason: "last free position slot"}, nil
	}
	return EntryCheck{Mode: SizingModeFull}, nil
}

// AllocatedSol sums the entry cost still deployed across the open book, which
// feeds the sizer's capital-allocation gate.
func (s *RiskService) AllocatedSol(ctx context.Context) (float64, int, error) {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("risk_service: list open positions: %w", err)
	}
	var allocated float64
	for _, p := range open {
		if p.EntryTokens > 0 {
			allocated += p.EntryAmount * (p.TokensLeft / p.EntryTokens)
		}
	}
	return allocated, len(open), nil
}
