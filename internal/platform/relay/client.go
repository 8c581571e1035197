// Package relay executes swaps through a signing relay service. The relay
// holds the wallet key, routes the swap through the Jupiter aggregator, signs
// and broadcasts the transaction on the engine's behalf, so the engine itself
// never touches key material.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/solwatch/copybot/internal/domain"
	"github.com/solwatch/copybot/internal/platform/jupiter"
	"github.com/solwatch/copybot/internal/platform/solana"
)

// confirmTimeout bounds how long Execute waits for an on-chain confirmation
// before handing the order back for retry.
const confirmTimeout = 90 * time.Second

// Client submits swaps to the relay and waits for on-chain confirmation.
type Client struct {
	host       string
	apiKey     string
	wallet     string
	quotes     *jupiter.Client
	rpc        *solana.RPCClient
	httpClient *http.Client
}

var _ domain.ExecutionClient = (*Client)(nil)

// NewClient creates a relay execution client. host is the relay base URL,
// wallet the base58 address the relay signs for, quotes the aggregator used
// to sanity-check the route before submission, rpc the node used for
// decimals lookups and confirmation polling.
func NewClient(host, apiKey, wallet string, quotes *jupiter.Client, rpc *solana.RPCClient) *Client {
	return &Client{
		host:   strings.TrimRight(host, "/"),
		apiKey: strings.TrimSpace(apiKey),
		wallet: wallet,
		quotes: quotes,
		rpc:    rpc,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// swapRequest is the relay submission envelope. Amount is in base units of
// the input mint.
type swapRequest struct {
	Wallet      string `json:"wallet"`
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
	ClientID    string `json:"clientId"`
}

// swapResponse reports the broadcast transaction and executed amounts.
type swapResponse struct {
	Signature string `json:"signature"`
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
}

// Execute routes the order through the relay and blocks until the swap is
// confirmed on chain. The returned fill carries the transaction signature and
// the realized price in SOL per token.
func (c *Client) Execute(ctx context.Context, o *domain.Order) (domain.Fill, error) {
	decimals, err := c.rpc.TokenDecimals(ctx, o.TokenMint)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, err)
	}
	tokenUnit := math.Pow10(decimals)

	req := swapRequest{
		Wallet:      c.wallet,
		SlippageBps: o.MaxSlippageBps,
		ClientID:    o.ID,
	}
	var amountBase int64
	switch o.Side {
	case domain.OrderSideBuy:
		req.InputMint = jupiter.WrappedSolMint
		req.OutputMint = o.TokenMint
		amountBase = int64(o.AmountSol * jupiter.LamportsPerSol)
	case domain.OrderSideSell:
		req.InputMint = o.TokenMint
		req.OutputMint = jupiter.WrappedSolMint
		amountBase = int64(o.AmountTokens * tokenUnit)
	default:
		return domain.Fill{}, &domain.PermanentExecutionError{Reason: "unknown order side " + string(o.Side)}
	}
	req.Amount = strconv.FormatInt(amountBase, 10)

	// Sanity-check the route before handing it to the relay: a quote whose
	// price impact already exceeds the order's slippage budget would only
	// burn the attempt on a swap the relay rejects or fills badly.
	if c.quotes != nil {
		quote, err := c.quotes.FetchQuote(ctx, req.InputMint, req.OutputMint, amountBase, o.MaxSlippageBps)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, err)
		}
		if !impactWithinLimit(quote, o.MaxSlippageBps) {
			return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, &domain.TransientExecutionError{
				Err: fmt.Errorf("quote price impact %.4f%% exceeds %d bps budget", quote.PriceImpactPct*100, o.MaxSlippageBps),
			})
		}
	}

	resp, err := c.submit(ctx, req)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, err)
	}

	if err := c.rpc.ConfirmTransaction(ctx, resp.Signature, confirmTimeout); err != nil {
		return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, err)
	}

	fill, err := buildFill(o, resp, tokenUnit)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("relay: execute order %s: %w", o.ID, err)
	}
	return fill, nil
}

// impactWithinLimit reports whether the quoted price impact (a fraction, so
// 0.01 is 1%) stays inside the order's slippage budget in basis points.
func impactWithinLimit(q jupiter.Quote, maxSlippageBps int) bool {
	return q.PriceImpactPct*10000 <= float64(maxSlippageBps)
}

func buildFill(o *domain.Order, resp swapResponse, tokenUnit float64) (domain.Fill, error) {
	out, err := strconv.ParseInt(resp.OutAmount, 10, 64)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("parse outAmount %q: %w", resp.OutAmount, err)
	}
	if out <= 0 {
		return domain.Fill{}, &domain.PermanentExecutionError{Reason: "relay reported zero output"}
	}

	switch o.Side {
	case domain.OrderSideBuy:
		tokens := float64(out) / tokenUnit
		return domain.Fill{
			TxID:   resp.Signature,
			Tokens: tokens,
			Price:  o.AmountSol / tokens,
		}, nil
	default:
		sol := float64(out) / jupiter.LamportsPerSol
		return domain.Fill{
			TxID:   resp.Signature,
			Tokens: o.AmountTokens,
			Price:  sol / o.AmountTokens,
		}, nil
	}
}

func (c *Client) submit(ctx context.Context, swap swapRequest) (swapResponse, error) {
	payload, err := json.Marshal(swap)
	if err != nil {
		return swapResponse{}, fmt.Errorf("marshal swap: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/swap", bytes.NewReader(payload))
	if err != nil {
		return swapResponse{}, fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return swapResponse{}, &domain.TransientExecutionError{Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return swapResponse{}, &domain.TransientExecutionError{Err: err}
	}
	if err := checkHTTPStatus(httpResp.StatusCode, body); err != nil {
		return swapResponse{}, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return swapResponse{}, fmt.Errorf("decode swap response: %w", err)
	}
	if resp.Signature == "" {
		return swapResponse{}, &domain.TransientExecutionError{Err: fmt.Errorf("relay returned no signature")}
	}
	return resp, nil
}

// checkHTTPStatus classifies relay failures: auth and rejected-swap problems
// are permanent, congestion and server trouble transient.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := errorMessage(body)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &domain.PermanentExecutionError{Reason: "relay rejected credentials", Err: fmt.Errorf("status %d: %s", statusCode, msg)}
	case statusCode == http.StatusTooManyRequests:
		return &domain.TransientExecutionError{Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)}
	case statusCode >= 500:
		return &domain.TransientExecutionError{Err: fmt.Errorf("status %d: %s", statusCode, msg)}
	case isPermanentReject(msg):
		return &domain.PermanentExecutionError{Reason: msg}
	default:
		return &domain.TransientExecutionError{Err: fmt.Errorf("status %d: %s", statusCode, msg)}
	}
}

func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func isPermanentReject(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "insufficient") ||
		strings.Contains(m, "no route") ||
		strings.Contains(m, "frozen")
}
