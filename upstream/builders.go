package upstream

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/metrics"
)

// Pacing for the unmetered upstreams, in requests per minute. The
// quota-bearing upstream is not paced here: its sliding-window ledger
// is authoritative and paces the caller instead.
const unmeteredRPM = 30

// BuildAdapters constructs one adapter per configured key, sharing a
// retrying client per upstream.
func BuildAdapters(cfg *config.Config, clk clock.Clock, log zerolog.Logger) []Adapter {
	opts := func(prefix string) RetryOptions {
		return RetryOptions{
			MaxAttempts:    cfg.MaxRetries,
			BaseDelay:      cfg.BaseDelay,
			RequestTimeout: cfg.RequestTimeout,
			LogPrefix:      prefix,
		}
	}
	pacer := func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(unmeteredRPM)/60.0, 10)
	}

	cryptoClient := NewClient(opts(config.UpstreamCrypto),
		metrics.NewMetricsWriter(config.UpstreamCrypto), pacer(), clk, log)
	fxClient := NewClient(opts(config.UpstreamFX),
		metrics.NewMetricsWriter(config.UpstreamFX), pacer(), clk, log)
	marketClient := NewClient(opts(config.UpstreamMarketData),
		metrics.NewMetricsWriter(config.UpstreamMarketData), nil, clk, log)

	adapters := make([]Adapter, 0, len(cfg.MarketKeys)+2)
	adapters = append(adapters,
		NewCryptoAdapter(cfg.CryptoKey, cfg.Upstreams.Crypto, cryptoClient),
		NewFXAdapter(cfg.FXKey, cfg.Upstreams.FX, fxClient),
	)
	for _, ticker := range cfg.MarketKeys {
		adapters = append(adapters,
			NewQuoteAdapter(ticker, cfg.Upstreams.MarketData, cfg.MarketDataAPIKey, marketClient))
	}
	return adapters
}
