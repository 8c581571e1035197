package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/platform/jupiter"
	"github.com/solwatch/copybot/internal/platform/solana"
)

func TestImpactWithinLimit(t *testing.T) {
	assert.True(t, impactWithinLimit(jupiter.Quote{PriceImpactPct: 0.01}, 300))  // 100 bps under a 300 bps budget
	assert.True(t, impactWithinLimit(jupiter.Quote{PriceImpactPct: 0.03}, 300))  // exactly at the budget
	assert.False(t, impactWithinLimit(jupiter.Quote{PriceImpactPct: 0.05}, 300)) // 500 bps over
	assert.True(t, impactWithinLimit(jupiter.Quote{}, 0))
}

// fakeRPC answers the getTokenSupply call Execute makes for decimals.
func fakeRPC(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"decimals":6}}}`)
	}))
}

func TestExecuteRejectsQuoteOverSlippageBudget(t *testing.T) {
	rpcSrv := fakeRPC(t)
	defer rpcSrv.Close()

	quoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"MintAAAA","inAmount":"500000000","outAmount":"123456","priceImpactPct":"0.05"}`)
	}))
	defer quoteSrv.Close()

	var relayHits atomic.Int64
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		relayHits.Add(1)
		fmt.Fprint(w, `{"signature":"sig-1","inAmount":"500000000","outAmount":"123456"}`)
	}))
	defer relaySrv.Close()

	jup := jupiter.NewClient(quoteSrv.URL, quoteSrv.URL)
	rpc := solana.NewRPCClient(rpcSrv.URL, "")
	c := NewClient(relaySrv.URL, "", "WalletAAAA", jup, rpc)

	o := domain.NewEntryOrder("sig-1", "MintAAAA", "AAA", 0.5, 0.001, 300)
	_, err := c.Execute(context.Background(), o)

	require.Error(t, err)
	var te *domain.TransientExecutionError
	assert.True(t, errors.As(err, &te), "an oversized impact should leave the order retriable")
	assert.Zero(t, relayHits.Load(), "the swap must not reach the relay when the quote fails the budget")
}

func TestExecuteSubmitsWhenQuoteWithinBudget(t *testing.T) {
	// The node answers the decimals lookup and then the confirmation poll,
	// routed by JSON-RPC method.
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "getTokenSupply":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"decimals":6}}}`)
		default:
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"finalized","err":null}]}}`)
		}
	}))
	defer rpcSrv.Close()

	quoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"inputMint":"So11111111111111111111111111111111111111112","outputMint":"MintAAAA","inAmount":"500000000","outAmount":"500000000","priceImpactPct":"0.001"}`)
	}))
	defer quoteSrv.Close()

	var relayHits atomic.Int64
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		relayHits.Add(1)
		fmt.Fprint(w, `{"signature":"sig-1","inAmount":"500000000","outAmount":"500000000"}`)
	}))
	defer relaySrv.Close()

	jup := jupiter.NewClient(quoteSrv.URL, quoteSrv.URL)
	rpc := solana.NewRPCClient(rpcSrv.URL, "")
	c := NewClient(relaySrv.URL, "", "WalletAAAA", jup, rpc)

	o := domain.NewEntryOrder("sig-1", "MintAAAA", "AAA", 0.5, 0.001, 300)
	fill, err := c.Execute(context.Background(), o)

	require.NoError(t, err)
	assert.Equal(t, "sig-1", fill.TxID)
	assert.Equal(t, int64(1), relayHits.Load())
	assert.InDelta(t, 500.0, fill.Tokens, 1e-9) // 500000000 base units at 6 decimals
}
