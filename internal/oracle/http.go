package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// DefaultTimeout bounds a single quote lookup. A vendor that does not
// answer within this window reports ErrUnavailable rather than blocking
// the caller.
const DefaultTimeout = 10 * time.Second

// Client fetches quotes from a REST market-data vendor.
//
// The vendor exposes GET {base}/quote?symbol={sym}&class={STOCK|CRYPTO}
// returning {"symbol": "...", "price": "123.45", "currency": "USD"}.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a quote client for the given vendor base URL.
// timeout <= 0 falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type quoteResponse struct {
	Symbol   string `json:"symbol"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// GetPrice resolves one symbol's current USD price.
func (c *Client) GetPrice(ctx context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s&class=%s",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(string(class)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: vendor status %d for %s", ErrUnavailable, resp.StatusCode, symbol)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode quote for %s: %v", ErrUnavailable, symbol, err)
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: bad price %q for %s", ErrUnavailable, quote.Price, symbol)
	}

	return price, nil
}
