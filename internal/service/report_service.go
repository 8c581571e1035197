package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// positionsChannel carries portfolio status events for outer layers.
const positionsChannel = "positions"

// ReportService periodically values the open book against cached prices and
// publishes a portfolio snapshot on the signal bus. It is display plumbing:
// exit decisions never depend on it.
type ReportService struct {
	positions domain.PositionStore
	cache     domain.PriceCache
	status    *StatusService
	bus       domain.SignalBus
	interval  time.Duration
	logger    *slog.Logger
}

// NewReportService creates a reporter ticking at the given interval.
func NewReportService(
	positions domain.PositionStore,
	cache domain.PriceCache,
	status *StatusService,
	bus domain.SignalBus,
	interval time.Duration,
	logger *slog.Logger,
) *ReportService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ReportService{
		positions: positions,
		cache:     cache,
		status:    status,
		bus:       bus,
		interval:  interval,
		logger:    logger.With(slog.String("component", "reporter")),
	}
}

// positionReport is the published per-position shape.
type positionReport struct {
	PositionID    string  `json:"position_id"`
	TokenSymbol   string  `json:"token_symbol"`
	TokenMint     string  `json:"token_mint"`
	Status        string  `json:"status"`
	CurrentPrice  float64 `json:"current_price"`
	ValueSol      float64 `json:"value_sol"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	RealizedPnl   float64 `json:"realized_pnl"`
	Multiplier    float64 `json:"multiplier"`
	HoursHeld     float64 `json:"hours_held"`
}

// portfolioReport is the published snapshot envelope.
type portfolioReport struct {
	Event     string           `json:"event"`
	At        time.Time        `json:"at"`
	Positions []positionReport `json:"positions"`
	TotalSol  float64          `json:"total_value_sol"`
	TotalPnl  float64          `json:"total_pnl"`
}

// Run blocks publishing snapshots until the context is cancelled.
func (s *ReportService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.publishSnapshot(ctx); err != nil {
				s.logger.WarnContext(ctx, "portfolio snapshot failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *ReportService) publishSnapshot(ctx context.Context) error {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	mints := make([]string, 0, len(open))
	seen := make(map[string]bool, len(open))
	for _, pos := range open {
		if !seen[pos.TokenMint] {
			seen[pos.TokenMint] = true
			mints = append(mints, pos.TokenMint)
		}
	}
	prices, err := s.cache.GetPrices(ctx, mints)
	if err != nil {
		return err
	}

	report := portfolioReport{Event: "portfolio_snapshot", At: time.Now().UTC()}
	for _, pos := range open {
		price, ok := prices[pos.TokenMint]
		if !ok {
			// No cached price yet; value at entry rather than zero.
			price = pos.EntryPrice
		}
		m := s.status.CalculateMetrics(pos, price)
		report.Positions = append(report.Positions, positionReport{
			PositionID:    pos.ID,
			TokenSymbol:   pos.TokenSymbol,
			TokenMint:     pos.TokenMint,
			Status:        string(pos.Status),
			CurrentPrice:  price,
			ValueSol:      m.CurrentValueSol,
			UnrealizedPnl: m.UnrealizedPnl,
			RealizedPnl:   m.RealizedPnl,
			Multiplier:    m.Multiplier,
			HoursHeld:     m.HoursHeld,
		})
		report.TotalSol += m.CurrentValueSol
		report.TotalPnl += m.TotalPnl
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	if err := s.bus.Announce(ctx, positionsChannel, payload); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "portfolio snapshot",
		slog.Int("open_positions", len(open)),
		slog.Float64("total_value_sol", report.TotalSol),
		slog.Float64("total_pnl", report.TotalPnl),
	)
	return nil
}
