// Package feed consumes wallet-activity signals from the signal bus and hands
// them to the trade pipeline. Scoring happens upstream; by the time a signal
// reaches this process it already carries its conviction score.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// dedupTTL is the replay window for repeated signal ids.
const dedupTTL = 10 * time.Minute

// sweepInterval is how often expired dedup entries are dropped.
const sweepInterval = time.Minute

// Handler consumes one deduplicated wallet signal.
type Handler func(ctx context.Context, sig domain.WalletSignal) error

// WalletFeed subscribes to the signal channel, filters replays, and forwards
// each signal to the handler. Handler errors are logged, never fatal: one bad
// signal must not stop the feed.
type WalletFeed struct {
	bus    domain.SignalBus
	handle Handler
	dedup  *Dedup
	logger *slog.Logger
}

// NewWalletFeed creates a feed delivering to handle.
func NewWalletFeed(bus domain.SignalBus, handle Handler, logger *slog.Logger) *WalletFeed {
	return &WalletFeed{
		bus:    bus,
		handle: handle,
		dedup:  NewDedup(dedupTTL),
		logger: logger.With(slog.String("component", "signal_feed")),
	}
}

// Run blocks consuming signals until the context is cancelled or the bus
// subscription closes.
func (f *WalletFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Signals(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("signal feed started")
	defer f.logger.Info("signal feed stopped")

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			f.dedup.Sweep()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, data)
		}
	}
}

func (f *WalletFeed) handleMessage(ctx context.Context, data []byte) {
	var sig domain.WalletSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		f.logger.WarnContext(ctx, "discarding malformed signal",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	if strings.TrimSpace(sig.ID) == "" || sig.TokenMint == "" {
		f.logger.WarnContext(ctx, "discarding incomplete signal",
			slog.String("signal_id", sig.ID),
			slog.String("token_mint", sig.TokenMint),
		)
		return
	}
	if f.dedup.Seen(sig.ID) {
		f.logger.DebugContext(ctx, "duplicate signal dropped", slog.String("signal_id", sig.ID))
		return
	}

	if err := f.handle(ctx, sig); err != nil {
		f.logger.ErrorContext(ctx, "signal handling failed",
			slog.String("signal_id", sig.ID),
			slog.String("token", sig.TokenSymbol),
			slog.String("error", err.Error()),
		)
	}
}
