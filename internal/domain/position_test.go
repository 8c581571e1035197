package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPosition(t *testing.T) *Position {
	t.Helper()
	entry := NewEntryOrder("sig-1", "MintAAAA", "AAA", 0.5, 0.001, 300)
	require.NoError(t, entry.MarkSubmitted())
	require.NoError(t, entry.MarkConfirming("tx"))
	require.NoError(t, entry.MarkFilled(0.001, 500))
	return NewPosition(entry, "default", ConvictionStandard, PositionLevels{
		EntryPrice:    0.001,
		StopLossPrice: 0.0005,
	})
}

func TestNewPositionSeedsFromFill(t *testing.T) {
	pos := newTestPosition(t)
	assert.Equal(t, PositionStatusOpen, pos.Status)
	assert.Equal(t, 0.001, pos.EntryPrice)
	assert.Equal(t, 500.0, pos.EntryTokens)
	assert.Equal(t, 500.0, pos.TokensLeft)
	assert.Equal(t, 0.001, pos.PeakPrice)
	assert.True(t, pos.IsMonitorable())
}

func TestObservePricePeakNeverDecreases(t *testing.T) {
	pos := newTestPosition(t)
	pos.ObservePrice(0.003)
	assert.Equal(t, 0.003, pos.PeakPrice)
	pos.ObservePrice(0.002)
	assert.Equal(t, 0.003, pos.PeakPrice)
	pos.ObservePrice(0.004)
	assert.Equal(t, 0.004, pos.PeakPrice)
}

func TestApplyPartialExit(t *testing.T) {
	pos := newTestPosition(t)

	require.NoError(t, pos.ApplyPartialExit(250, 0.002, "fill-1"))
	assert.Equal(t, 250.0, pos.TokensLeft)
	assert.InDelta(t, 250*(0.002-0.001), pos.RealizedPnl, 1e-9)
	assert.Equal(t, PositionStatusPartialExit, pos.Status)
	assert.Equal(t, []string{"fill-1"}, pos.ExitFillIDs)

	// Token amount never increases and never goes negative.
	assert.Error(t, pos.ApplyPartialExit(300, 0.002, "fill-2"))
	assert.Error(t, pos.ApplyPartialExit(0, 0.002, "fill-3"))
	assert.Equal(t, 250.0, pos.TokensLeft)
}

func TestPartialExitPreservesMoonbagStatus(t *testing.T) {
	pos := newTestPosition(t)
	require.NoError(t, pos.ConvertToMoonbag(0.10))
	require.NoError(t, pos.ApplyPartialExit(100, 0.003, "fill-1"))
	assert.Equal(t, PositionStatusMoonbag, pos.Status)
	assert.True(t, pos.IsMonitorable())
}

func TestCloseWritesExitFieldsOnce(t *testing.T) {
	pos := newTestPosition(t)
	require.NoError(t, pos.BeginClose())
	assert.False(t, pos.IsMonitorable())

	require.NoError(t, pos.Close(ExitReasonStopLoss, 0.0004, "fill-9"))
	assert.True(t, pos.IsClosed())
	assert.Zero(t, pos.TokensLeft)
	assert.InDelta(t, 500*(0.0004-0.001), pos.RealizedPnl, 1e-9)
	assert.Equal(t, ExitReasonStopLoss, pos.ExitReason)
	require.NotNil(t, pos.ExitTime)
	firstExit := *pos.ExitTime

	err := pos.Close(ExitReasonManual, 0.001, "fill-10")
	assert.ErrorIs(t, err, ErrExitAlreadySet)
	assert.Equal(t, firstExit, *pos.ExitTime)
	assert.Equal(t, ExitReasonStopLoss, pos.ExitReason)
}

func TestClosedPositionRejectsAllMutation(t *testing.T) {
	pos := newTestPosition(t)
	require.NoError(t, pos.Close(ExitReasonManual, 0.001, ""))

	assert.ErrorIs(t, pos.ApplyPartialExit(10, 0.001, "f"), ErrExitAlreadySet)
	assert.ErrorIs(t, pos.BeginClose(), ErrExitAlreadySet)
	assert.ErrorIs(t, pos.ConvertToMoonbag(0.1), ErrExitAlreadySet)
}

func TestConvertToMoonbag(t *testing.T) {
	pos := newTestPosition(t)
	require.NoError(t, pos.ConvertToMoonbag(0.10))
	assert.Equal(t, PositionStatusMoonbag, pos.Status)
	assert.True(t, pos.MoonbagEnabled)
	assert.Equal(t, 0.10, pos.MoonbagPct)
}
