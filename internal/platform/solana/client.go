// Package solana is a minimal JSON-RPC client for Solana nodes covering the
// calls the engine needs: wallet balance, mint decimals, and transaction
// confirmation polling.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

const lamportsPerSol = 1_000_000_000

// confirmPollInterval is how often ConfirmTransaction re-checks a signature.
const confirmPollInterval = 2 * time.Second

// RPCClient speaks JSON-RPC 2.0 to a Solana node for a single wallet.
type RPCClient struct {
	url        string
	wallet     string
	httpClient *http.Client

	mu       sync.Mutex
	decimals map[string]int // mint -> decimals, immutable once minted
}

var _ domain.BalanceSource = (*RPCClient)(nil)

// NewRPCClient creates a client against the given RPC endpoint. wallet is the
// base58 account whose balance AvailableSol reports; it may be empty when the
// client is used only for decimals and confirmations.
func NewRPCClient(url, wallet string) *RPCClient {
	return &RPCClient{
		url:    url,
		wallet: wallet,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		decimals: make(map[string]int),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AvailableSol returns the wallet's spendable balance in SOL at confirmed
// commitment.
func (c *RPCClient) AvailableSol(ctx context.Context) (float64, error) {
	if c.wallet == "" {
		return 0, fmt.Errorf("solana: get balance: wallet address not configured")
	}
	var result struct {
		Value int64 `json:"value"`
	}
	params := []any{c.wallet, map[string]string{"commitment": "confirmed"}}
	if err := c.call(ctx, "getBalance", params, &result); err != nil {
		return 0, fmt.Errorf("solana: get balance: %w", err)
	}
	return float64(result.Value) / lamportsPerSol, nil
}

// TokenDecimals returns the decimal precision of an SPL mint. Results are
// cached for the lifetime of the client.
func (c *RPCClient) TokenDecimals(ctx context.Context, mint string) (int, error) {
	c.mu.Lock()
	if d, ok := c.decimals[mint]; ok {
		c.mu.Unlock()
		return d, nil
	}
	c.mu.Unlock()

	var result struct {
		Value struct {
			Decimals int `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getTokenSupply", []any{mint}, &result); err != nil {
		return 0, fmt.Errorf("solana: token decimals for %s: %w", mint, err)
	}

	c.mu.Lock()
	c.decimals[mint] = result.Value.Decimals
	c.mu.Unlock()
	return result.Value.Decimals, nil
}

// ConfirmTransaction polls the signature status until it reaches confirmed or
// finalized commitment. A transaction the cluster reports as errored fails
// permanently; running out of time is transient since the signature may still
// land.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, signature string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		status, txErr, err := c.signatureStatus(ctx, signature)
		if err != nil {
			return fmt.Errorf("solana: confirm %s: %w", signature, err)
		}
		if txErr != "" {
			return &domain.PermanentExecutionError{Reason: "transaction failed on chain: " + txErr}
		}
		if status == "confirmed" || status == "finalized" {
			return nil
		}
		if time.Now().After(deadline) {
			return &domain.TransientExecutionError{Err: fmt.Errorf("solana: confirm %s: timed out after %s", signature, timeout)}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) signatureStatus(ctx context.Context, signature string) (status, txErr string, err error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	params := []any{[]string{signature}, map[string]bool{"searchTransactionHistory": true}}
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return "", "", err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return "", "", nil
	}
	v := result.Value[0]
	if len(v.Err) > 0 && string(v.Err) != "null" {
		return v.ConfirmationStatus, string(v.Err), nil
	}
	return v.ConfirmationStatus, "", nil
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransientExecutionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.TransientExecutionError{Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &domain.TransientExecutionError{Err: domain.ErrRateLimited}
	}
	if resp.StatusCode >= 500 {
		return &domain.TransientExecutionError{Err: fmt.Errorf("%s: status %d", method, resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, truncate(body))
	}

	var envelope rpcResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
