package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntry() *Order {
	return NewEntryOrder("sig-1", "MintAAAA", "AAA", 0.5, 0.001, 300)
}

func failOnce(t *testing.T, o *Order, execErr error) {
	t.Helper()
	require.NoError(t, o.MarkSubmitted())
	require.NoError(t, o.MarkFailed(execErr))
}

func TestOrderHappyPath(t *testing.T) {
	o := newTestEntry()
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, DefaultMaxAttempts, o.MaxAttempts)

	require.NoError(t, o.MarkSubmitted())
	require.NoError(t, o.MarkConfirming("tx-123"))
	assert.Equal(t, "tx-123", o.FillTx)

	require.NoError(t, o.MarkFilled(0.0011, 450))
	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.Equal(t, 0.0011, o.ActualPrice)
	assert.Equal(t, 450.0, o.AmountTokens)
	require.NotNil(t, o.FilledAt)
	assert.Nil(t, o.NextRetryAt)
	assert.True(t, o.IsTerminal())
}

func TestInvalidTransitionLeavesOrderUnchanged(t *testing.T) {
	o := newTestEntry()

	err := o.MarkConfirming("tx")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, OrderStatusPending, invalid.From)
	assert.Equal(t, OrderStatusConfirming, invalid.To)

	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Empty(t, o.FillTx)
}

func TestTerminalOrdersRejectAllTransitions(t *testing.T) {
	o := newTestEntry()
	require.NoError(t, o.MarkSubmitted())
	require.NoError(t, o.MarkConfirming("tx"))
	require.NoError(t, o.MarkFilled(0.001, 500))

	assert.Error(t, o.MarkSubmitted())
	assert.Error(t, o.MarkFailed(errors.New("late failure")))
	assert.Error(t, o.Cancel("too late"))
	assert.Equal(t, OrderStatusFilled, o.Status)
}

func TestMarkFailedBackoffSchedule(t *testing.T) {
	o := newTestEntry()
	wantDelays := []time.Duration{5 * time.Second, 15 * time.Second}

	for i, delay := range wantDelays {
		failOnce(t, o, errors.New("rpc timeout"))
		assert.Equal(t, i+1, o.AttemptCount)
		assert.True(t, o.CanRetry())
		require.NotNil(t, o.NextRetryAt)
		assert.WithinDuration(t, time.Now().UTC().Add(delay), *o.NextRetryAt, time.Second)
		require.NoError(t, o.ScheduleRetry())
		assert.Equal(t, OrderStatusPending, o.Status)
		assert.Nil(t, o.NextRetryAt)
	}

	// Third failure exhausts the budget.
	failOnce(t, o, errors.New("rpc timeout"))
	assert.Equal(t, 3, o.AttemptCount)
	assert.False(t, o.CanRetry())
	assert.Nil(t, o.NextRetryAt)
	assert.ErrorIs(t, o.ScheduleRetry(), ErrRetryExhausted)
}

func TestPermanentErrorExhaustsRetriesImmediately(t *testing.T) {
	o := newTestEntry()
	failOnce(t, o, &PermanentExecutionError{Reason: "insufficient funds"})

	assert.Equal(t, o.MaxAttempts, o.AttemptCount)
	assert.False(t, o.CanRetry())
	assert.Nil(t, o.NextRetryAt)
}

func TestCancelReachableOnlyFromPendingAndFailed(t *testing.T) {
	o := newTestEntry()
	require.NoError(t, o.Cancel("operator"))
	assert.Equal(t, OrderStatusCancelled, o.Status)
	assert.Equal(t, "operator", o.LastError)

	o2 := newTestEntry()
	require.NoError(t, o2.MarkSubmitted())
	assert.Error(t, o2.Cancel("in flight"))
	assert.Equal(t, OrderStatusSubmitted, o2.Status)

	o3 := newTestEntry()
	failOnce(t, o3, errors.New("boom"))
	require.NoError(t, o3.Cancel("give up"))
	assert.True(t, o3.IsTerminal())
}

func TestRetryDue(t *testing.T) {
	o := newTestEntry()
	failOnce(t, o, errors.New("boom"))

	now := time.Now().UTC()
	assert.False(t, o.RetryDue(now))
	assert.True(t, o.RetryDue(now.Add(6*time.Second)))

	// Exhausted orders are never due.
	o.AttemptCount = o.MaxAttempts
	assert.False(t, o.RetryDue(now.Add(time.Hour)))
}

func TestSlippageBps(t *testing.T) {
	o := newTestEntry()
	assert.Zero(t, o.SlippageBps())

	require.NoError(t, o.MarkSubmitted())
	require.NoError(t, o.MarkConfirming("tx"))
	require.NoError(t, o.MarkFilled(0.00102, 490)) // 2% above expected 0.001
	assert.InDelta(t, 200, o.SlippageBps(), 0.01)
}

func TestExitOrderDerivesFromPosition(t *testing.T) {
	entry := newTestEntry()
	require.NoError(t, entry.MarkSubmitted())
	require.NoError(t, entry.MarkConfirming("tx"))
	require.NoError(t, entry.MarkFilled(0.001, 500))

	pos := NewPosition(entry, "default", ConvictionHigh, PositionLevels{EntryPrice: 0.001})
	o := NewExitOrder(pos, 250, 0.002, ExitReasonTakeProfit)

	assert.Equal(t, OrderTypeExit, o.Type)
	assert.Equal(t, OrderSideSell, o.Side)
	assert.Equal(t, pos.ID, o.PositionID)
	assert.Equal(t, ExitReasonTakeProfit, o.ExitReason)
	assert.InDelta(t, 0.5, o.AmountSol, 1e-9)
	assert.Equal(t, pos.MaxSlippageBps, o.MaxSlippageBps)
}
