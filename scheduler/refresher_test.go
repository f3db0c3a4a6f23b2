package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/fetcher"
	"github.com/strdash/price-proxy/ratelimit"
	"github.com/strdash/price-proxy/upstream"
)

type refresherHarness struct {
	cfg       *config.Config
	cache     *cache.PriceCache
	refresher *Refresher
	fake      *clock.Fake

	mu          sync.Mutex
	marketCalls int
}

func newRefresherHarness(t *testing.T, mutate func(*config.Config)) *refresherHarness {
	t.Helper()

	h := &refresherHarness{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/simple/price":
			fmt.Fprint(w, `{"bitcoin":{"usd":100000}}`)
		case "/latest":
			fmt.Fprint(w, `{"rates":{"USD":1.08}}`)
		case "/query":
			h.mu.Lock()
			h.marketCalls++
			h.mu.Unlock()
			fmt.Fprint(w, `{"Global Quote":{"05. price":"420.00"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Upstreams = config.UpstreamURLs{Crypto: server.URL, FX: server.URL, MarketData: server.URL}
	cfg.MarketDataAPIKey = "test-key"
	// Deterministic TTLs so remaining lifetime is exact.
	cfg.TTLMin = 5 * time.Minute
	cfg.TTLMax = 5 * time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	priceCache := cache.New(cfg.TTLMin, cfg.TTLMax, fake)
	limiter := ratelimit.New(cfg.RateLimitWindow, fake)

	newClient := func(prefix string) *upstream.Client {
		return upstream.NewClient(upstream.RetryOptions{
			MaxAttempts:    cfg.MaxRetries,
			BaseDelay:      cfg.BaseDelay,
			RequestTimeout: cfg.RequestTimeout,
			LogPrefix:      prefix,
		}, nil, nil, fake, zerolog.Nop())
	}

	adapters := []upstream.Adapter{
		upstream.NewCryptoAdapter(cfg.CryptoKey, cfg.Upstreams.Crypto, newClient(config.UpstreamCrypto)),
		upstream.NewFXAdapter(cfg.FXKey, cfg.Upstreams.FX, newClient(config.UpstreamFX)),
	}
	marketClient := newClient(config.UpstreamMarketData)
	for _, ticker := range cfg.MarketKeys {
		adapters = append(adapters,
			upstream.NewQuoteAdapter(ticker, cfg.Upstreams.MarketData, cfg.MarketDataAPIKey, marketClient))
	}

	svc := fetcher.New(cfg, priceCache, limiter, adapters, fake, zerolog.Nop())

	h.cfg = cfg
	h.cache = priceCache
	h.refresher = NewRefresher(cfg, svc, priceCache, zerolog.Nop())
	h.fake = fake
	return h
}

func (h *refresherHarness) marketCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.marketCalls
}

func TestRefreshOnceSeedsEmptyCache(t *testing.T) {
	h := newRefresherHarness(t, nil)

	h.refresher.RefreshOnce(context.Background())

	for _, key := range h.cfg.Keys() {
		assert.True(t, h.cache.Has(key), "key %s should be seeded", key)
	}
}

func TestRefreshOnceSkipsFreshEntries(t *testing.T) {
	h := newRefresherHarness(t, nil)

	h.refresher.RefreshOnce(context.Background())
	seeded := h.marketCallCount()

	// One minute in, remaining TTL is 4m, well above the 60s threshold.
	h.fake.Advance(time.Minute)
	h.refresher.RefreshOnce(context.Background())

	assert.Equal(t, seeded, h.marketCallCount())
}

func TestRefreshOnceRefetchesEntriesNearExpiry(t *testing.T) {
	h := newRefresherHarness(t, nil)

	h.refresher.RefreshOnce(context.Background())
	seeded := h.marketCallCount()

	// 4m10s in, remaining TTL is 50s, under the 60s threshold.
	h.fake.Advance(4*time.Minute + 10*time.Second)
	h.refresher.RefreshOnce(context.Background())

	assert.Equal(t, seeded+len(h.cfg.MarketKeys), h.marketCallCount())
	for _, key := range h.cfg.Keys() {
		assert.True(t, h.cache.Has(key), "key %s should be fresh again", key)
	}
}

func TestStartSeedsSynchronously(t *testing.T) {
	h := newRefresherHarness(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, h.refresher.Start(ctx))
	defer h.refresher.Stop()

	// Seeding happens before Start returns, not on a later tick.
	for _, key := range h.cfg.Keys() {
		assert.True(t, h.cache.Has(key))
	}
	assert.True(t, h.refresher.Status().Running)
}

func TestStartWithoutSeedLeavesCacheCold(t *testing.T) {
	h := newRefresherHarness(t, func(c *config.Config) {
		c.SeedOnStartup = false
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NoError(t, h.refresher.Start(ctx))
	defer h.refresher.Stop()

	assert.Equal(t, 0, h.marketCallCount())
}

func TestStatusSnapshot(t *testing.T) {
	h := newRefresherHarness(t, nil)

	status := h.refresher.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 30.0, status.Interval)
	assert.Equal(t, 60.0, status.RefreshThreshold)

	assert.NoError(t, h.refresher.Start(context.Background()))
	assert.True(t, h.refresher.Status().Running)
	h.refresher.Stop()
	assert.False(t, h.refresher.Status().Running)
}
