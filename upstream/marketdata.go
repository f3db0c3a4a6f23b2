package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/pricing"
)

// QuoteAdapter fetches one ticker's global quote from an Alpha
// Vantage-compatible endpoint. The vendor enforces a strict per-minute
// quota, which the caller is expected to honour via the rate-limit
// ledger before dispatching.
type QuoteAdapter struct {
	ticker  string
	baseURL string
	apiKey  string
	client  *Client
}

func NewQuoteAdapter(ticker, baseURL, apiKey string, client *Client) *QuoteAdapter {
	return &QuoteAdapter{ticker: ticker, baseURL: baseURL, apiKey: apiKey, client: client}
}

func (a *QuoteAdapter) Key() string {
	return a.ticker
}

func (a *QuoteAdapter) Upstream() string {
	return config.UpstreamMarketData
}

func (a *QuoteAdapter) Fetch(ctx context.Context) (pricing.Value, error) {
	if a.apiKey == "" {
		return nil, ErrMissingCredential
	}
	requestURL := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		a.baseURL, url.QueryEscape(a.ticker), url.QueryEscape(a.apiKey))
	return a.client.FetchParsed(ctx, requestURL, parseGlobalQuote)
}

// globalQuotePayload mirrors the vendor's numbered field names. All
// numbers arrive as strings.
type globalQuotePayload struct {
	GlobalQuote struct {
		Price  string `json:"05. price"`
		High   string `json:"03. high"`
		Low    string `json:"04. low"`
		Volume string `json:"06. volume"`
	} `json:"Global Quote"`
}

func parseGlobalQuote(body []byte) (pricing.Value, error) {
	var payload globalQuotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	// The vendor reports its own throttling as HTTP 200 with an empty
	// quote and a "Note" field. Treat that like any malformed payload:
	// transient, retried under backoff.
	if payload.GlobalQuote.Price == "" {
		return nil, fmt.Errorf("payload missing quote price")
	}

	price, err := strconv.ParseFloat(payload.GlobalQuote.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing quote price %q: %w", payload.GlobalQuote.Price, err)
	}

	quote := pricing.Quote{Price: price}
	if v, err := strconv.ParseFloat(payload.GlobalQuote.High, 64); err == nil {
		quote.High = pricing.Float(v)
	}
	if v, err := strconv.ParseFloat(payload.GlobalQuote.Low, 64); err == nil {
		quote.Low = pricing.Float(v)
	}
	if v, err := strconv.ParseFloat(payload.GlobalQuote.Volume, 64); err == nil {
		quote.Volume = pricing.Float(v)
	}
	return quote, nil
}
