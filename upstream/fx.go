package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/pricing"
)

// FXAdapter fetches the EUR/USD rate from a Frankfurter-compatible
// endpoint.
type FXAdapter struct {
	key     string
	baseURL string
	client  *Client
}

func NewFXAdapter(key, baseURL string, client *Client) *FXAdapter {
	return &FXAdapter{key: key, baseURL: baseURL, client: client}
}

func (a *FXAdapter) Key() string {
	return a.key
}

func (a *FXAdapter) Upstream() string {
	return config.UpstreamFX
}

func (a *FXAdapter) Fetch(ctx context.Context) (pricing.Value, error) {
	url := fmt.Sprintf("%s/latest?from=EUR&to=USD", a.baseURL)
	return a.client.FetchParsed(ctx, url, parseFXRate)
}

func parseFXRate(body []byte) (pricing.Value, error) {
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	usd, ok := payload.Rates["USD"]
	if !ok {
		return nil, fmt.Errorf("payload missing rates.USD")
	}
	return pricing.Scalar(usd), nil
}
