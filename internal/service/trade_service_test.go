package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
)

type tradeFixture struct {
	positions *stubPositions
	orders    *stubOrders
	audits    *stubAudits
	balance   *stubBalance
	submitter *stubSubmitter
	svc       *TradeService
}

func newTradeFixture(t *testing.T) *tradeFixture {
	t.Helper()
	f := &tradeFixture{
		positions: newStubPositions(),
		orders:    &stubOrders{},
		audits:    &stubAudits{},
		balance:   &stubBalance{sol: 10},
		submitter: &stubSubmitter{},
	}
	sizing, err := NewSizingService(testSizingConfig(), f.audits, testLogger())
	require.NoError(t, err)
	risk := NewRiskService(testSizingConfig(), f.positions, testLogger())

	strategy := testStrategy()
	f.svc = NewTradeService(
		TradeConfig{StrategyID: strategy.ID, MaxSlippageBps: 300, ReducedModeFactor: 0.5, Simulated: true},
		risk,
		sizing,
		f.balance,
		f.submitter,
		f.positions,
		f.orders,
		map[string]domain.ExitStrategy{strategy.ID: strategy},
		strategy,
		testLogger(),
	)
	return f
}

func testSignal(score float64) domain.WalletSignal {
	return domain.WalletSignal{
		ID:          "sig-1",
		Wallet:      "WalletAAA",
		TokenMint:   "MintAAA",
		TokenSymbol: "AAA",
		Score:       score,
		PriceSol:    0.001,
	}
}

func fillOrder(t *testing.T, o *domain.Order, price, tokens float64) {
	t.Helper()
	require.NoError(t, o.MarkSubmitted())
	require.NoError(t, o.MarkConfirming("tx-1"))
	require.NoError(t, o.MarkFilled(price, tokens))
}

func TestHandleSignalSubmitsEntryOrder(t *testing.T) {
	f := newTradeFixture(t)

	require.NoError(t, f.svc.HandleSignal(context.Background(), testSignal(60)))

	require.Len(t, f.submitter.orders, 1)
	o := f.submitter.orders[0]
	assert.Equal(t, domain.OrderTypeEntry, o.Type)
	assert.Equal(t, "sig-1", o.SignalID)
	assert.Equal(t, "MintAAA", o.TokenMint)
	assert.InDelta(t, 0.5, o.AmountSol, 1e-9) // 10 * 5% * 1.0
	assert.Equal(t, 0.001, o.ExpectedPrice)
	assert.Equal(t, 300, o.MaxSlippageBps)
	assert.True(t, o.Simulated)
	assert.False(t, f.submitter.emergency[0])
	assert.Len(t, f.audits.appended, 1)
}

func TestHandleSignalBlockedScoreSubmitsNothing(t *testing.T) {
	f := newTradeFixture(t)

	require.NoError(t, f.svc.HandleSignal(context.Background(), testSignal(30)))
	assert.Empty(t, f.submitter.orders, "a blocked signal is a normal outcome, not a trade")
}

func TestHandleSignalReducedModeHalvesSize(t *testing.T) {
	f := newTradeFixture(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, f.positions.Create(context.Background(), openPosition(id, 0.05, 50, 50)))
	}

	require.NoError(t, f.svc.HandleSignal(context.Background(), testSignal(60)))

	require.Len(t, f.submitter.orders, 1)
	assert.InDelta(t, 0.25, f.submitter.orders[0].AmountSol, 1e-9, "last-slot entries are halved")
}

func TestApplyEntryFillOpensPosition(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.HandleSignal(ctx, testSignal(90)))
	o := f.submitter.orders[0]
	fillOrder(t, o, 0.0012, 400)

	require.NoError(t, f.svc.ApplyFill(ctx, o))

	require.Len(t, f.positions.created, 1)
	pos := f.positions.created[0]
	assert.Equal(t, 0.0012, pos.EntryPrice, "levels derive from the actual fill price")
	assert.Equal(t, 400.0, pos.EntryTokens)
	assert.Equal(t, domain.ConvictionHigh, pos.Conviction, "tier decided at signal time is recalled at fill time")
	assert.Equal(t, "default", pos.ExitStrategy)
	assert.InDelta(t, 0.0006, pos.Levels.StopLossPrice, 1e-12)
	assert.Equal(t, pos.ID, o.PositionID)
	require.Len(t, f.orders.updated, 1)

	// Redelivery of the same fill opens nothing new.
	require.NoError(t, f.svc.ApplyFill(ctx, o))
	assert.Len(t, f.positions.created, 1)
}

func TestApplyEntryFillWithoutPendingTierFallsBackToStandard(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()

	// An order filled after a restart: no tier was recorded in this process.
	o := domain.NewEntryOrder("sig-orphan", "MintAAA", "AAA", 0.5, 0.001, 300)
	fillOrder(t, o, 0.001, 500)

	require.NoError(t, f.svc.ApplyFill(ctx, o))
	require.Len(t, f.positions.created, 1)
	assert.Equal(t, domain.ConvictionStandard, f.positions.created[0].Conviction)
}

func TestApplyExitFillPartial(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	pos := openPosition("pos-1", 0.5, 500, 500)
	pos.EntryPrice = 0.001
	require.NoError(t, f.positions.Create(ctx, pos))

	o := domain.NewExitOrder(pos, 250, 0.002, domain.ExitReasonTakeProfit)
	fillOrder(t, o, 0.002, 250)

	require.NoError(t, f.svc.ApplyFill(ctx, o))
	assert.Equal(t, 250.0, pos.TokensLeft)
	assert.InDelta(t, 0.25, pos.RealizedPnl, 1e-9)
	assert.Equal(t, domain.PositionStatusPartialExit, pos.Status)

	// Same fill again is a no-op.
	require.NoError(t, f.svc.ApplyFill(ctx, o))
	assert.Equal(t, 250.0, pos.TokensLeft)
	assert.InDelta(t, 0.25, pos.RealizedPnl, 1e-9)
}

func TestApplyExitFillClosesClosingPosition(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	pos := openPosition("pos-1", 0.5, 500, 500)
	pos.EntryPrice = 0.001
	require.NoError(t, f.positions.Create(ctx, pos))
	require.NoError(t, pos.BeginClose())

	o := domain.NewExitOrder(pos, 500, 0.0004, domain.ExitReasonStopLoss)
	fillOrder(t, o, 0.0004, 500)

	require.NoError(t, f.svc.ApplyFill(ctx, o))
	assert.True(t, pos.IsClosed())
	assert.Equal(t, domain.ExitReasonStopLoss, pos.ExitReason)
	assert.Zero(t, pos.TokensLeft)
	assert.InDelta(t, -0.3, pos.RealizedPnl, 1e-9)
	require.NotNil(t, pos.ExitTime)
}

func TestApplyExitFillClosesDrainedPosition(t *testing.T) {
	f := newTradeFixture(t)
	ctx := context.Background()
	pos := openPosition("pos-1", 0.5, 500, 250)
	pos.EntryPrice = 0.001
	pos.Status = domain.PositionStatusPartialExit
	require.NoError(t, f.positions.Create(ctx, pos))

	// A take-profit fill that sells everything left must close the position
	// even though nothing moved it to CLOSING first.
	o := domain.NewExitOrder(pos, 250, 0.003, domain.ExitReasonTakeProfit)
	fillOrder(t, o, 0.003, 250)

	require.NoError(t, f.svc.ApplyFill(ctx, o))
	assert.True(t, pos.IsClosed())
	assert.Zero(t, pos.TokensLeft)
	assert.InDelta(t, 0.5, pos.RealizedPnl, 1e-9)
	require.NotNil(t, pos.ExitTime)
}

func TestApplyExitFillWithoutPositionFails(t *testing.T) {
	f := newTradeFixture(t)
	pos := openPosition("pos-x", 0.5, 500, 500)
	o := domain.NewExitOrder(pos, 250, 0.002, domain.ExitReasonTakeProfit)
	o.PositionID = ""
	fillOrder(t, o, 0.002, 250)

	assert.Error(t, f.svc.ApplyFill(context.Background(), o))
}
