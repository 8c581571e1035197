// Package jupiter is an HTTP client for the Jupiter aggregator APIs: swap
// quotes from the quote API and token prices from the price API.
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/solwatch/copybot/internal/domain"
)

// WrappedSolMint is the SPL mint address of wrapped SOL, used as the quote
// currency for every swap and price lookup.
const WrappedSolMint = "So11111111111111111111111111111111111111112"

// LamportsPerSol converts between SOL and its smallest on-chain unit.
const LamportsPerSol = 1_000_000_000

// Client talks to the Jupiter quote and price endpoints.
type Client struct {
	quoteHost  string
	priceHost  string
	httpClient *http.Client
}

var _ domain.TokenPriceSource = (*Client)(nil)

// NewClient creates a Jupiter client. quoteHost and priceHost are base URLs,
// e.g. "https://quote-api.jup.ag" and "https://lite-api.jup.ag".
func NewClient(quoteHost, priceHost string) *Client {
	return &Client{
		quoteHost: strings.TrimRight(quoteHost, "/"),
		priceHost: strings.TrimRight(priceHost, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Quote is the subset of the quote API response the engine consumes. Amounts
// are in base units of the respective mint (lamports for wrapped SOL).
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       int64
	OutAmount      int64
	PriceImpactPct float64
}

// quoteResponse is the quote API wire envelope.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// FetchQuote asks the quote API for the best route swapping amount base units
// of inputMint into outputMint at the given slippage tolerance.
func (c *Client) FetchQuote(ctx context.Context, inputMint, outputMint string, amount int64, slippageBps int) (Quote, error) {
	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", strconv.FormatInt(amount, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))

	body, err := c.get(ctx, c.quoteHost+"/v6/quote?"+q.Encode())
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: fetch quote: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Quote{}, fmt.Errorf("jupiter: decode quote: %w", err)
	}

	in, err := strconv.ParseInt(resp.InAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: parse inAmount %q: %w", resp.InAmount, err)
	}
	out, err := strconv.ParseInt(resp.OutAmount, 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("jupiter: parse outAmount %q: %w", resp.OutAmount, err)
	}
	impact, _ := strconv.ParseFloat(resp.PriceImpactPct, 64)

	return Quote{
		InputMint:      resp.InputMint,
		OutputMint:     resp.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: impact,
	}, nil
}

// FetchPrice returns the current price of tokenMint denominated in SOL, via
// the price API with wrapped SOL as the vs token.
func (c *Client) FetchPrice(ctx context.Context, tokenMint string) (float64, error) {
	q := url.Values{}
	q.Set("ids", tokenMint)
	q.Set("vsToken", WrappedSolMint)

	body, err := c.get(ctx, c.priceHost+"/price/v2?"+q.Encode())
	if err != nil {
		return 0, fmt.Errorf("jupiter: fetch price: %w", err)
	}

	var resp struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("jupiter: decode price: %w", err)
	}

	entry, ok := resp.Data[tokenMint]
	if !ok || entry.Price == "" {
		return 0, fmt.Errorf("jupiter: price for %s: %w", tokenMint, domain.ErrNotFound)
	}
	price, err := strconv.ParseFloat(entry.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("jupiter: parse price %q: %w", entry.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("jupiter: price for %s: %w", tokenMint, domain.ErrNotFound)
	}
	return price, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransientExecutionError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientExecutionError{Err: err}
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps a non-2xx response to a typed execution error so retry
// policy follows the failure class.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := apiErrorMessage(body)
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &domain.TransientExecutionError{Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)}
	case statusCode >= 500:
		return &domain.TransientExecutionError{Err: fmt.Errorf("status %d: %s", statusCode, msg)}
	case isRouteNotFound(msg):
		return &domain.PermanentExecutionError{Reason: "no swap route", Err: fmt.Errorf("status %d: %s", statusCode, msg)}
	default:
		return fmt.Errorf("status %d: %s", statusCode, msg)
	}
}

func apiErrorMessage(body []byte) string {
	var e struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.ErrorMessage != "" {
			return e.ErrorMessage
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func isRouteNotFound(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no route") || strings.Contains(m, "route not found") ||
		strings.Contains(m, "could not find any route")
}
