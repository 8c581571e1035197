package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// OrderType distinguishes entries from exits.
type OrderType string

const (
	OrderTypeEntry OrderType = "entry"
	OrderTypeExit  OrderType = "exit"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusSubmitted  OrderStatus = "submitted"
	OrderStatusConfirming OrderStatus = "confirming"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// validTransitions is the order state machine. Filled and cancelled are
// terminal and have no outgoing edges.
var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusSubmitted, OrderStatusCancelled},
	OrderStatusSubmitted:  {OrderStatusConfirming, OrderStatusFailed},
	OrderStatusConfirming: {OrderStatusFilled, OrderStatusFailed},
	OrderStatusFailed:     {OrderStatusPending, OrderStatusCancelled},
	OrderStatusFilled:     {},
	OrderStatusCancelled:  {},
}

// retryBackoff is the fixed delay schedule applied after the Nth failed
// attempt. Attempts beyond the table length reuse the last entry.
var retryBackoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
}

// DefaultMaxAttempts bounds how many times an order is executed before it is
// considered permanently failed.
const DefaultMaxAttempts = 3

// Order represents a single swap to be driven through the execution client.
// All mutation goes through the Mark*/Cancel/ScheduleRetry methods; callers
// must never assign Status directly.
type Order struct {
	ID         string
	Type       OrderType
	Side       OrderSide
	SignalID   string
	PositionID string
	ExitReason string

	TokenMint   string
	TokenSymbol string

	AmountSol    float64 // SOL committed (entry) or expected proceeds (exit)
	AmountTokens float64 // token quantity filled, or to sell for exits

	ExpectedPrice  float64
	ActualPrice    float64
	MaxSlippageBps int

	Status OrderStatus

	FillTx   string
	FilledAt *time.Time

	AttemptCount int
	MaxAttempts  int
	LastError    string
	NextRetryAt  *time.Time

	// Lease fields for cross-process claims on shared order state. A worker
	// owns the order until LockedUntil; an expired lease is reclaimable.
	LockedBy    string
	LockedUntil *time.Time

	Simulated bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEntryOrder constructs a pending buy order funded with amountSol.
func NewEntryOrder(signalID, tokenMint, tokenSymbol string, amountSol, expectedPrice float64, slippageBps int) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.New().String(),
		Type:           OrderTypeEntry,
		Side:           OrderSideBuy,
		SignalID:       signalID,
		TokenMint:      tokenMint,
		TokenSymbol:    tokenSymbol,
		AmountSol:      amountSol,
		ExpectedPrice:  expectedPrice,
		MaxSlippageBps: slippageBps,
		Status:         OrderStatusPending,
		MaxAttempts:    DefaultMaxAttempts,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewExitOrder constructs a pending sell order for part or all of a position.
// The SOL amount is derived from the token quantity at the expected price.
func NewExitOrder(pos *Position, amountTokens, expectedPrice float64, reason string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.New().String(),
		Type:           OrderTypeExit,
		Side:           OrderSideSell,
		SignalID:       pos.SignalID,
		PositionID:     pos.ID,
		ExitReason:     reason,
		TokenMint:      pos.TokenMint,
		TokenSymbol:    pos.TokenSymbol,
		AmountTokens:   amountTokens,
		AmountSol:      amountTokens * expectedPrice,
		ExpectedPrice:  expectedPrice,
		MaxSlippageBps: pos.MaxSlippageBps,
		Status:         OrderStatusPending,
		MaxAttempts:    DefaultMaxAttempts,
		Simulated:      pos.Simulated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CanTransition reports whether the table permits moving to the target status.
func (o *Order) CanTransition(to OrderStatus) bool {
	for _, next := range validTransitions[o.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the order to the target status or returns an
// InvalidTransitionError leaving the order untouched.
func (o *Order) transition(to OrderStatus) error {
	if !o.CanTransition(to) {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSubmitted records that the order has been handed to the execution client.
func (o *Order) MarkSubmitted() error {
	return o.transition(OrderStatusSubmitted)
}

// MarkConfirming records the fill transaction id while its confirmation is
// awaited on chain.
func (o *Order) MarkConfirming(fillTx string) error {
	if err := o.transition(OrderStatusConfirming); err != nil {
		return err
	}
	o.FillTx = fillTx
	return nil
}

// MarkFilled finalizes the order with the actual fill price and token amount.
func (o *Order) MarkFilled(actualPrice, amountTokens float64) error {
	if err := o.transition(OrderStatusFilled); err != nil {
		return err
	}
	now := time.Now().UTC()
	o.ActualPrice = actualPrice
	o.AmountTokens = amountTokens
	o.FilledAt = &now
	o.NextRetryAt = nil
	o.LastError = ""
	return nil
}

// MarkFailed increments the attempt counter and moves the order to failed.
// When attempts remain the next retry time is stamped from the backoff table;
// otherwise NextRetryAt stays nil and the order is eligible only for cancel.
func (o *Order) MarkFailed(execErr error) error {
	if err := o.transition(OrderStatusFailed); err != nil {
		return err
	}
	if o.AttemptCount < o.MaxAttempts {
		o.AttemptCount++
	}
	if execErr != nil {
		o.LastError = execErr.Error()
	}
	// A permanent failure exhausts the retry budget immediately; retrying an
	// insufficient-funds or delisted-token swap cannot succeed.
	if IsPermanent(execErr) {
		o.AttemptCount = o.MaxAttempts
	}
	if o.AttemptCount < o.MaxAttempts {
		at := time.Now().UTC().Add(backoffFor(o.AttemptCount))
		o.NextRetryAt = &at
	} else {
		o.NextRetryAt = nil
	}
	return nil
}

// ScheduleRetry moves a retriable failed order back to pending and clears the
// retry timestamp. It returns ErrRetryExhausted when no attempts remain.
func (o *Order) ScheduleRetry() error {
	if o.Status == OrderStatusFailed && o.AttemptCount >= o.MaxAttempts {
		return ErrRetryExhausted
	}
	if err := o.transition(OrderStatusPending); err != nil {
		return err
	}
	o.NextRetryAt = nil
	return nil
}

// Cancel abandons the order. Terminal orders cannot be cancelled; in-flight
// orders (submitted/confirming) resolve to filled or failed first, so cancel
// is only reachable from pending and failed.
func (o *Order) Cancel(reason string) error {
	if err := o.transition(OrderStatusCancelled); err != nil {
		return err
	}
	if reason != "" {
		o.LastError = reason
	}
	o.NextRetryAt = nil
	return nil
}

// CanRetry reports whether the order failed with attempts remaining.
func (o *Order) CanRetry() bool {
	return o.Status == OrderStatusFailed && o.AttemptCount < o.MaxAttempts
}

// IsTerminal reports whether the order reached a final, immutable state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled
}

// RetryDue reports whether a retriable order's backoff delay has elapsed.
func (o *Order) RetryDue(now time.Time) bool {
	if !o.CanRetry() {
		return false
	}
	return o.NextRetryAt == nil || !now.Before(*o.NextRetryAt)
}

// SlippageBps returns the realized slippage in basis points once filled,
// or zero before the fill.
func (o *Order) SlippageBps() float64 {
	if o.Status != OrderStatusFilled || o.ExpectedPrice == 0 {
		return 0
	}
	return math.Abs(o.ActualPrice-o.ExpectedPrice) / o.ExpectedPrice * 10_000
}

// LeaseExpired reports whether the order's lease is unclaimed or stale.
func (o *Order) LeaseExpired(now time.Time) bool {
	return o.LockedUntil == nil || o.LockedUntil.Before(now)
}

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retryBackoff) {
		attempt = len(retryBackoff)
	}
	return retryBackoff[attempt-1]
}
