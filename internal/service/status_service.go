package service

import (
	"fmt"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// PositionMetrics is a read-only valuation of a position at a given price.
type PositionMetrics struct {
	CurrentPrice    float64
	CurrentValueSol float64
	CostBasisSol    float64
	UnrealizedPnl   float64
	RealizedPnl     float64
	TotalPnl        float64
	Multiplier      float64 // current price over entry price
	PeakMultiplier  float64
	HoursHeld       float64
	Profitable      bool // total PnL positive at this price
	PeakedProfit    bool // price has been above entry at some point

	NextLevels []LevelSummary
}

// LevelSummary is one upcoming exit level, display-oriented.
type LevelSummary struct {
	Kind     string // "stop_loss", "take_profit", "trailing_stop", "moonbag_stop"
	Price    float64
	Distance float64 // fractional distance from current price, signed
	Label    string
}

// StatusService computes position metrics for display and reporting. It
// never mutates a position and holds no state of its own.
type StatusService struct{}

// NewStatusService creates a StatusService.
func NewStatusService() *StatusService { return &StatusService{} }

// CalculateMetrics values the position at currentPrice. Cost basis covers the
// remaining tokens only; realized PnL from earlier partial exits is reported
// separately and included in the total.
func (s *StatusService) CalculateMetrics(pos *domain.Position, currentPrice float64) PositionMetrics {
	m := PositionMetrics{
		CurrentPrice:    currentPrice,
		CurrentValueSol: pos.TokensLeft * currentPrice,
		CostBasisSol:    pos.TokensLeft * pos.EntryPrice,
		RealizedPnl:     pos.RealizedPnl,
		HoursHeld:       time.Since(pos.EntryTime).Hours(),
	}
	m.UnrealizedPnl = m.CurrentValueSol - m.CostBasisSol
	m.TotalPnl = m.UnrealizedPnl + m.RealizedPnl
	if pos.EntryPrice > 0 {
		m.Multiplier = currentPrice / pos.EntryPrice
		m.PeakMultiplier = pos.PeakPrice / pos.EntryPrice
	}
	m.Profitable = m.TotalPnl > 0
	m.PeakedProfit = pos.PeakPrice > pos.EntryPrice
	m.NextLevels = s.nextLevels(pos, currentPrice)
	return m
}

func (s *StatusService) nextLevels(pos *domain.Position, currentPrice float64) []LevelSummary {
	var out []LevelSummary
	add := func(kind string, price float64, label string) {
		if price <= 0 {
			return
		}
		distance := 0.0
		if currentPrice > 0 {
			distance = (price - currentPrice) / currentPrice
		}
		out = append(out, LevelSummary{Kind: kind, Price: price, Distance: distance, Label: label})
	}

	lv := &pos.Levels
	if pos.Status == domain.PositionStatusMoonbag {
		add("moonbag_stop", lv.MoonbagStopPrice, "moonbag stop")
		return out
	}
	add("stop_loss", lv.StopLossPrice, "stop loss")
	if tp := lv.NextUntriggered(); tp != nil {
		add("take_profit", tp.TriggerPrice, fmt.Sprintf("take profit %.1fx", tp.TriggerMultiplier))
	}
	if lv.TrailingActive() {
		add("trailing_stop", lv.TrailingStopPrice, "trailing stop")
	} else if lv.TrailingActivationPrice > 0 {
		add("trailing_stop", lv.TrailingActivationPrice, "trailing activation")
	}
	return out
}
