// Package paper simulates order execution against live prices. Fills are
// priced from the real token price source with a small randomized slippage,
// so the rest of the engine runs unmodified while no funds move.
package paper

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/solwatch/copybot/internal/domain"
)

// Client fills orders at the current market price. Buys fill slightly above
// and sells slightly below, with slippage drawn uniformly from
// [0, maxSlippageBps/2].
type Client struct {
	prices         domain.TokenPriceSource
	maxSlippageBps int
}

var _ domain.ExecutionClient = (*Client)(nil)

// NewClient creates a simulated execution client priced by prices.
func NewClient(prices domain.TokenPriceSource, maxSlippageBps int) *Client {
	if maxSlippageBps < 0 {
		maxSlippageBps = 0
	}
	return &Client{prices: prices, maxSlippageBps: maxSlippageBps}
}

// Execute fills the order at the live price adjusted for simulated slippage.
// Price lookup failures surface as transient so the order retries on the
// normal backoff schedule.
func (c *Client) Execute(ctx context.Context, o *domain.Order) (domain.Fill, error) {
	price, err := c.prices.FetchPrice(ctx, o.TokenMint)
	if err != nil {
		if domain.IsTransient(err) || domain.IsPermanent(err) {
			return domain.Fill{}, fmt.Errorf("paper: execute order %s: %w", o.ID, err)
		}
		return domain.Fill{}, fmt.Errorf("paper: execute order %s: %w", o.ID, &domain.TransientExecutionError{Err: err})
	}

	slip := c.randomSlippage()
	fill := domain.Fill{TxID: "paper-" + uuid.New().String()}
	switch o.Side {
	case domain.OrderSideBuy:
		fill.Price = price * (1 + slip)
		fill.Tokens = o.AmountSol / fill.Price
	case domain.OrderSideSell:
		fill.Price = price * (1 - slip)
		fill.Tokens = o.AmountTokens
	default:
		return domain.Fill{}, &domain.PermanentExecutionError{Reason: "unknown order side " + string(o.Side)}
	}
	return fill, nil
}

func (c *Client) randomSlippage() float64 {
	if c.maxSlippageBps == 0 {
		return 0
	}
	return rand.Float64() * float64(c.maxSlippageBps) / 2 / 10_000
}

// Balance reports a fixed paper bankroll minus the SOL still allocated to
// open positions, mirroring how a live wallet drains as entries fill.
type Balance struct {
	baseSol   float64
	positions domain.PositionStore
}

var _ domain.BalanceSource = (*Balance)(nil)

// NewBalance creates a paper balance source starting from baseSol.
func NewBalance(baseSol float64, positions domain.PositionStore) *Balance {
	return &Balance{baseSol: baseSol, positions: positions}
}

// AvailableSol returns the unallocated share of the paper bankroll. Realized
// profits are not credited back; the bankroll is a sizing reference, not a
// ledger.
func (b *Balance) AvailableSol(ctx context.Context) (float64, error) {
	open, err := b.positions.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("paper: available sol: %w", err)
	}
	available := b.baseSol
	for _, pos := range open {
		if pos.EntryTokens <= 0 {
			continue
		}
		available -= pos.EntryAmount * (pos.TokensLeft / pos.EntryTokens)
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}
