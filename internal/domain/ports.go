package domain

import (
	"context"
	"io"
	"time"
)

// Fill is the execution client's report of a completed swap.
type Fill struct {
	TxID   string
	Price  float64
	Tokens float64
}

// ExecutionClient performs the actual swap for an order. Implementations wrap
// a DEX aggregator or broker; the engine only consumes success or failure.
// Failures should be classified as TransientExecutionError or
// PermanentExecutionError so retry policy follows the error, not just the
// attempt count.
type ExecutionClient interface {
	Execute(ctx context.Context, o *Order) (Fill, error)
}

// TokenPriceSource supplies the current SOL price of a token. Fallback and
// caching policy live behind the implementation.
type TokenPriceSource interface {
	FetchPrice(ctx context.Context, tokenMint string) (float64, error)
}

// ExitManager evaluates a freshly priced position against its levels and
// performs any partial or full exits. The price monitor calls it exactly once
// per position per tick.
type ExitManager interface {
	ProcessPosition(ctx context.Context, pos *Position, price float64) error
}

// AlertService raises operator alerts. Implementations persist the alert and
// fan it out to notification channels; a repeated dedupe key within the
// configured window is silently dropped.
type AlertService interface {
	CreateAlert(ctx context.Context, severity AlertSeverity, title, message string, data map[string]any, requiresAction bool, dedupeKey string) error
}

// LeaderLease is a renewable distributed lease for a single-writer loop. One
// process holds the lease; the others get ErrLockHeld from Acquire until it
// lapses. Extend renews the holder's TTL between ticks and returns
// ErrLeaseExpired once the lease has been lost, at which point the holder
// must Acquire again before doing leader work.
type LeaderLease interface {
	Acquire(ctx context.Context, ttl time.Duration) error
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// PriceCache caches recent token prices for display and risk queries.
type PriceCache interface {
	SetPrice(ctx context.Context, tokenMint string, price float64, ttl time.Duration) error
	GetPrice(ctx context.Context, tokenMint string) (float64, time.Time, error)
	GetPrices(ctx context.Context, tokenMints []string) (map[string]float64, error)
}

// BalanceSource reports the wallet's spendable SOL balance.
type BalanceSource interface {
	AvailableSol(ctx context.Context) (float64, error)
}

// OrderSubmitter persists and enqueues an order for execution. The queued
// executor is the production implementation.
type OrderSubmitter interface {
	Submit(ctx context.Context, o *Order, emergency bool) error
}

// FillApplier is notified after an order reaches FILLED so position state can
// absorb the fill. It must be idempotent per order: the lease protocol allows
// a fill to be reported at most once, but callers retry on transient errors.
type FillApplier interface {
	ApplyFill(ctx context.Context, o *Order) error
}

// SignalBus is the bot's messaging edge: wallet signals come in, engine
// events go out. Signals yields raw signal payloads until the context is
// cancelled. Announce publishes an event ephemerally on its channel and
// appends it to the channel's durable stream so consumers that were offline
// can catch up.
type SignalBus interface {
	Signals(ctx context.Context) (<-chan []byte, error)
	Announce(ctx context.Context, channel string, payload []byte) error
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
