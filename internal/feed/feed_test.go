package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
)

func TestDedupSeen(t *testing.T) {
	d := NewDedup(time.Minute)

	assert.False(t, d.Seen("sig-1"))
	assert.True(t, d.Seen("sig-1"))
	assert.False(t, d.Seen("sig-2"))
}

func TestDedupExpiry(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)

	assert.False(t, d.Seen("sig-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, d.Seen("sig-1"), "an expired entry is a fresh signal")
}

func TestDedupSweep(t *testing.T) {
	d := NewDedup(10 * time.Millisecond)
	d.Seen("sig-1")
	d.Seen("sig-2")

	time.Sleep(20 * time.Millisecond)
	d.Sweep()

	d.mu.Lock()
	assert.Empty(t, d.seen)
	d.mu.Unlock()
}

func newTestFeed(handle Handler) *WalletFeed {
	return NewWalletFeed(nil, handle, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func marshalSignal(t *testing.T, sig domain.WalletSignal) []byte {
	t.Helper()
	data, err := json.Marshal(sig)
	require.NoError(t, err)
	return data
}

func TestHandleMessageDeliversSignal(t *testing.T) {
	var got []domain.WalletSignal
	f := newTestFeed(func(_ context.Context, sig domain.WalletSignal) error {
		got = append(got, sig)
		return nil
	})

	sig := domain.WalletSignal{ID: "sig-1", Wallet: "WalletAAA", TokenMint: "MintAAA", TokenSymbol: "AAA", Score: 72, PriceSol: 0.001}
	f.handleMessage(context.Background(), marshalSignal(t, sig))

	require.Len(t, got, 1)
	assert.Equal(t, "sig-1", got[0].ID)
	assert.Equal(t, 72.0, got[0].Score)
}

func TestHandleMessageDropsDuplicates(t *testing.T) {
	var calls int
	f := newTestFeed(func(context.Context, domain.WalletSignal) error {
		calls++
		return nil
	})

	sig := domain.WalletSignal{ID: "sig-1", TokenMint: "MintAAA"}
	f.handleMessage(context.Background(), marshalSignal(t, sig))
	f.handleMessage(context.Background(), marshalSignal(t, sig))

	assert.Equal(t, 1, calls)
}

func TestHandleMessageDiscardsMalformedPayloads(t *testing.T) {
	var calls int
	f := newTestFeed(func(context.Context, domain.WalletSignal) error {
		calls++
		return nil
	})

	f.handleMessage(context.Background(), []byte("{not json"))
	f.handleMessage(context.Background(), marshalSignal(t, domain.WalletSignal{ID: "", TokenMint: "MintAAA"}))
	f.handleMessage(context.Background(), marshalSignal(t, domain.WalletSignal{ID: "sig-1", TokenMint: ""}))

	assert.Zero(t, calls)
}

func TestHandleMessageContainsHandlerErrors(t *testing.T) {
	var calls int
	f := newTestFeed(func(context.Context, domain.WalletSignal) error {
		calls++
		return errors.New("sizing unavailable")
	})

	f.handleMessage(context.Background(), marshalSignal(t, domain.WalletSignal{ID: "sig-1", TokenMint: "MintAAA"}))
	f.handleMessage(context.Background(), marshalSignal(t, domain.WalletSignal{ID: "sig-2", TokenMint: "MintAAA"}))

	assert.Equal(t, 2, calls, "a failing handler must not stop delivery")
}
