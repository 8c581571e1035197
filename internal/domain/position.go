package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PositionStatus tracks the position lifecycle. Closed is terminal.
type PositionStatus string

const (
	PositionStatusPending     PositionStatus = "pending"
	PositionStatusOpen        PositionStatus = "open"
	PositionStatusPartialExit PositionStatus = "partial_exit"
	PositionStatusClosing     PositionStatus = "closing"
	PositionStatusClosed      PositionStatus = "closed"
	PositionStatusMoonbag     PositionStatus = "moonbag"
)

// ConvictionTier scales position size from a signal score.
type ConvictionTier string

const (
	ConvictionHigh     ConvictionTier = "high"
	ConvictionStandard ConvictionTier = "standard"
	ConvictionNone     ConvictionTier = "none"
)

// Exit reasons carried on exit orders and closed positions.
const (
	ExitReasonStopLoss     = "stop_loss"
	ExitReasonTakeProfit   = "take_profit"
	ExitReasonTrailingStop = "trailing_stop"
	ExitReasonMoonbagStop  = "moonbag_stop"
	ExitReasonManual       = "manual"
)

// Position is a holding opened from a wallet signal and unwound by the exit
// engine. Token amount only ever decreases after creation; peak price only
// ever increases; exit fields are written at most once. Mutation goes through
// the methods below, never by direct field writes from callers.
type Position struct {
	ID          string
	SignalID    string
	TokenMint   string
	TokenSymbol string

	Status PositionStatus

	EntryPrice   float64
	EntryAmount  float64 // SOL spent at entry
	EntryTokens  float64 // tokens received at entry
	EntryTime    time.Time
	TokensLeft   float64 // remaining token amount
	RealizedPnl  float64 // SOL
	ExitStrategy string  // strategy id
	Conviction   ConvictionTier

	Levels PositionLevels

	MoonbagEnabled bool
	MoonbagPct     float64

	ExitReason  string
	ExitTime    *time.Time
	ExitPrice   float64
	ExitFillIDs []string

	PeakPrice float64

	MaxSlippageBps int
	Simulated      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPosition creates a pending position from a filled entry order.
func NewPosition(entry *Order, strategyID string, tier ConvictionTier, levels PositionLevels) *Position {
	now := time.Now().UTC()
	return &Position{
		ID:             uuid.New().String(),
		SignalID:       entry.SignalID,
		TokenMint:      entry.TokenMint,
		TokenSymbol:    entry.TokenSymbol,
		Status:         PositionStatusOpen,
		EntryPrice:     entry.ActualPrice,
		EntryAmount:    entry.AmountSol,
		EntryTokens:    entry.AmountTokens,
		EntryTime:      now,
		TokensLeft:     entry.AmountTokens,
		ExitStrategy:   strategyID,
		Conviction:     tier,
		Levels:         levels,
		PeakPrice:      entry.ActualPrice,
		MaxSlippageBps: entry.MaxSlippageBps,
		Simulated:      entry.Simulated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsClosed reports whether the position reached its terminal state.
func (p *Position) IsClosed() bool {
	return p.Status == PositionStatusClosed
}

// IsMonitorable reports whether the price monitor should track this position.
func (p *Position) IsMonitorable() bool {
	switch p.Status {
	case PositionStatusOpen, PositionStatusPartialExit, PositionStatusMoonbag:
		return true
	default:
		return false
	}
}

// ObservePrice records a new price observation. The stored peak never
// decreases.
func (p *Position) ObservePrice(price float64) {
	if price > p.PeakPrice {
		p.PeakPrice = price
		p.UpdatedAt = time.Now().UTC()
	}
}

// ApplyPartialExit reduces the remaining token amount after a partial fill and
// accrues realized PnL against the entry cost basis of the sold tokens.
func (p *Position) ApplyPartialExit(soldTokens, fillPrice float64, fillID string) error {
	if p.IsClosed() {
		return fmt.Errorf("position %s: %w", p.ID, ErrExitAlreadySet)
	}
	if soldTokens <= 0 || soldTokens > p.TokensLeft {
		return fmt.Errorf("position %s: sold %.6f of %.6f tokens: %w", p.ID, soldTokens, p.TokensLeft, ErrInvalidConfig)
	}
	p.TokensLeft -= soldTokens
	p.RealizedPnl += soldTokens * (fillPrice - p.EntryPrice)
	p.ExitFillIDs = append(p.ExitFillIDs, fillID)
	if p.Status == PositionStatusOpen {
		p.Status = PositionStatusPartialExit
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// BeginClose marks the position as winding down while its final exit order is
// in flight.
func (p *Position) BeginClose() error {
	if p.IsClosed() {
		return fmt.Errorf("position %s: %w", p.ID, ErrExitAlreadySet)
	}
	p.Status = PositionStatusClosing
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Close finalizes the position. Exit metadata is written at most once; a
// second close attempt fails without modifying the record.
func (p *Position) Close(reason string, exitPrice float64, fillID string) error {
	if p.IsClosed() || p.ExitTime != nil {
		return fmt.Errorf("position %s: %w", p.ID, ErrExitAlreadySet)
	}
	now := time.Now().UTC()
	if p.TokensLeft > 0 {
		p.RealizedPnl += p.TokensLeft * (exitPrice - p.EntryPrice)
		p.TokensLeft = 0
	}
	p.Status = PositionStatusClosed
	p.ExitReason = reason
	p.ExitTime = &now
	p.ExitPrice = exitPrice
	if fillID != "" {
		p.ExitFillIDs = append(p.ExitFillIDs, fillID)
	}
	p.UpdatedAt = now
	return nil
}

// ConvertToMoonbag flags the residual tokens as a moonbag exempt from the
// normal exit ladder. The moonbag keeps its own stop from the computed levels.
func (p *Position) ConvertToMoonbag(pct float64) error {
	if p.IsClosed() {
		return fmt.Errorf("position %s: %w", p.ID, ErrExitAlreadySet)
	}
	p.Status = PositionStatusMoonbag
	p.MoonbagEnabled = true
	p.MoonbagPct = pct
	p.UpdatedAt = time.Now().UTC()
	return nil
}
