package upstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/pricing"
)

// CryptoAdapter fetches the cryptocurrency spot price from a
// CoinGecko-compatible simple-price endpoint.
type CryptoAdapter struct {
	key     string
	baseURL string
	client  *Client
}

func NewCryptoAdapter(key, baseURL string, client *Client) *CryptoAdapter {
	return &CryptoAdapter{key: key, baseURL: baseURL, client: client}
}

func (a *CryptoAdapter) Key() string {
	return a.key
}

func (a *CryptoAdapter) Upstream() string {
	return config.UpstreamCrypto
}

func (a *CryptoAdapter) Fetch(ctx context.Context) (pricing.Value, error) {
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=bitcoin&vs_currencies=usd", a.baseURL)
	return a.client.FetchParsed(ctx, url, parseCryptoSpot)
}

func parseCryptoSpot(body []byte) (pricing.Value, error) {
	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	usd, ok := payload["bitcoin"]["usd"]
	if !ok {
		return nil, fmt.Errorf("payload missing bitcoin.usd")
	}
	return pricing.Scalar(usd), nil
}
