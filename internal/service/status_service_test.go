package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
)

func statusPosition() *domain.Position {
	return &domain.Position{
		ID:          "pos-1",
		Status:      domain.PositionStatusPartialExit,
		EntryPrice:  0.001,
		EntryAmount: 0.5,
		EntryTokens: 500,
		EntryTime:   time.Now().Add(-2 * time.Hour),
		TokensLeft:  250,
		RealizedPnl: 0.1,
		PeakPrice:   0.003,
		Levels: domain.PositionLevels{
			EntryPrice:    0.001,
			StopLossPrice: 0.0005,
			TakeProfits: []domain.TakeProfitLevel{
				{TriggerMultiplier: 2.0, TriggerPrice: 0.002, SellPct: 50, IsTriggered: true},
				{TriggerMultiplier: 3.0, TriggerPrice: 0.003, SellPct: 50},
			},
			TrailingActivationPrice: 0.002,
		},
	}
}

func TestCalculateMetrics(t *testing.T) {
	s := NewStatusService()
	m := s.CalculateMetrics(statusPosition(), 0.002)

	assert.InDelta(t, 0.5, m.CurrentValueSol, 1e-9)
	assert.InDelta(t, 0.25, m.CostBasisSol, 1e-9)
	assert.InDelta(t, 0.25, m.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 0.1, m.RealizedPnl, 1e-9)
	assert.InDelta(t, 0.35, m.TotalPnl, 1e-9)
	assert.InDelta(t, 2.0, m.Multiplier, 1e-9)
	assert.InDelta(t, 3.0, m.PeakMultiplier, 1e-9)
	assert.InDelta(t, 2.0, m.HoursHeld, 0.1)
	assert.True(t, m.Profitable)
	assert.True(t, m.PeakedProfit)
}

func TestCalculateMetricsUnderwater(t *testing.T) {
	pos := statusPosition()
	pos.RealizedPnl = 0
	pos.PeakPrice = 0.001

	m := NewStatusService().CalculateMetrics(pos, 0.0006)
	assert.InDelta(t, -0.1, m.TotalPnl, 1e-9) // 250 * (0.0006 - 0.001)
	assert.False(t, m.Profitable)
	assert.False(t, m.PeakedProfit)
}

func TestNextLevelsNormalPosition(t *testing.T) {
	m := NewStatusService().CalculateMetrics(statusPosition(), 0.0025)

	require.Len(t, m.NextLevels, 3)
	assert.Equal(t, "stop_loss", m.NextLevels[0].Kind)
	assert.Equal(t, 0.0005, m.NextLevels[0].Price)
	assert.Negative(t, m.NextLevels[0].Distance)

	assert.Equal(t, "take_profit", m.NextLevels[1].Kind)
	assert.Equal(t, 0.003, m.NextLevels[1].Price, "only the next untriggered rung is shown")

	assert.Equal(t, "trailing_stop", m.NextLevels[2].Kind)
	assert.Equal(t, "trailing activation", m.NextLevels[2].Label)
}

func TestNextLevelsActiveTrailingStop(t *testing.T) {
	pos := statusPosition()
	pos.Levels.TrailingStopPrice = 0.0021

	m := NewStatusService().CalculateMetrics(pos, 0.0025)
	last := m.NextLevels[len(m.NextLevels)-1]
	assert.Equal(t, "trailing_stop", last.Kind)
	assert.Equal(t, 0.0021, last.Price)
	assert.Equal(t, "trailing stop", last.Label)
}

func TestNextLevelsMoonbagPosition(t *testing.T) {
	pos := statusPosition()
	pos.Status = domain.PositionStatusMoonbag
	pos.Levels.MoonbagStopPrice = 0.0002

	m := NewStatusService().CalculateMetrics(pos, 0.0025)
	require.Len(t, m.NextLevels, 1)
	assert.Equal(t, "moonbag_stop", m.NextLevels[0].Kind)
	assert.Equal(t, 0.0002, m.NextLevels[0].Price)
}
