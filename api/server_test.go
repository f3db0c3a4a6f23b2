package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/fetcher"
	"github.com/strdash/price-proxy/ratelimit"
	"github.com/strdash/price-proxy/scheduler"
	"github.com/strdash/price-proxy/upstream"
)

type apiHarness struct {
	cfg    *config.Config
	cache  *cache.PriceCache
	router http.Handler
	fake   *clock.Fake

	mu          sync.Mutex
	marketCalls int
	failAll     bool
}

func newAPIHarness(t *testing.T, mutate func(*config.Config)) *apiHarness {
	t.Helper()

	h := &apiHarness{}

	upstreams := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		failing := h.failAll
		if r.URL.Path == "/query" {
			h.marketCalls++
		}
		h.mu.Unlock()

		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/api/v3/simple/price":
			fmt.Fprint(w, `{"bitcoin":{"usd":100000}}`)
		case "/latest":
			fmt.Fprint(w, `{"rates":{"USD":1.08}}`)
		case "/query":
			fmt.Fprint(w, `{"Global Quote":{"05. price":"420.00"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(upstreams.Close)

	cfg := config.Default()
	cfg.Upstreams = config.UpstreamURLs{Crypto: upstreams.URL, FX: upstreams.URL, MarketData: upstreams.URL}
	cfg.MarketDataAPIKey = "test-key"
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

	fetchSvc := fetcher.New(cfg, priceCache, limiter, adapters, fake, zerolog.Nop())
	refresher := scheduler.NewRefresher(cfg, fetchSvc, priceCache, zerolog.Nop())
	server := New(cfg, priceCache, limiter, fetchSvc, refresher, fake, zerolog.Nop())

	h.cfg = cfg
	h.cache = priceCache
	h.router = server.Router()
	h.fake = fake
	return h
}

func (h *apiHarness) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return rec, body
}

func (h *apiHarness) marketCallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.marketCalls
}

func TestPing(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec, body := h.get(t, "/api/ping")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec, body := h.get(t, "/api/prices/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Not found", body["error"])
	assert.Equal(t, "/api/prices/nope", body["path"])
}

func TestPricesAllColdSuccess(t *testing.T) {
	h := newAPIHarness(t, nil)

	rec, body := h.get(t, "/api/prices/all")

	assert.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	assert.Len(t, data, len(h.cfg.Keys()))
	assert.Equal(t, float64(100000), data["btc"])
	assert.Equal(t, 420.0, data["MSTR"].(map[string]interface{})["price"])

	meta := body["metadata"].(map[string]interface{})
	assert.False(t, meta["cached"].(bool))
	assert.False(t, meta["partial"].(bool))
	assert.False(t, meta["degraded"].(bool))

	ttls := meta["ttls"].(map[string]interface{})
	for _, key := range h.cfg.Keys() {
		assert.Greater(t, ttls[key].(float64), 0.0, "key %s should carry a positive ttl", key)
	}

	assert.Empty(t, body["errors"])
	assert.Len(t, body["successes"], len(h.cfg.Keys()))
}

func TestPricesAllWarmIsCached(t *testing.T) {
	h := newAPIHarness(t, nil)

	h.get(t, "/api/prices/all")
	before := h.marketCallCount()

	rec, body := h.get(t, "/api/prices/all")

	assert.Equal(t, http.StatusOK, rec.Code)
	meta := body["metadata"].(map[string]interface{})
	assert.True(t, meta["cached"].(bool))
	assert.Equal(t, before, h.marketCallCount())
}

func TestPricesAllPartialReturns207(t *testing.T) {
	h := newAPIHarness(t, func(c *config.Config) {
		c.Quotas[config.UpstreamMarketData] = 2
	})

	rec, body := h.get(t, "/api/prices/all")

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	meta := body["metadata"].(map[string]interface{})
	assert.True(t, meta["partial"].(bool))
	assert.False(t, meta["degraded"].(bool))
	assert.Len(t, body["errors"], 3)
	// Fallbacks keep the payload complete.
	assert.Len(t, body["data"], len(h.cfg.Keys()))
}

func TestPricesAllDegradedOutage(t *testing.T) {
	h := newAPIHarness(t, func(c *config.Config) {
		c.MaxRetries = 1
	})
	h.failAll = true

	rec, body := h.get(t, "/api/prices/all")

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	meta := body["metadata"].(map[string]interface{})
	assert.True(t, meta["partial"].(bool))
	assert.True(t, meta["degraded"].(bool))
	assert.Len(t, body["errors"], len(h.cfg.Keys()))
	assert.Len(t, body["data"], len(h.cfg.Keys()))
	assert.Equal(t, float64(100000), body["data"].(map[string]interface{})["btc"])
}

func TestForceRefreshBypassesCache(t *testing.T) {
	h := newAPIHarness(t, nil)

	h.get(t, "/api/prices/all")
	before := h.marketCallCount()
	// Let the quota window slide so the forced refetch is admitted.
	h.fake.Advance(h.cfg.RateLimitWindow)

	rec, body := h.get(t, "/api/prices/all?force=true")

	assert.Equal(t, http.StatusOK, rec.Code)
	meta := body["metadata"].(map[string]interface{})
	assert.False(t, meta["cached"].(bool))
	assert.Equal(t, before+len(h.cfg.MarketKeys), h.marketCallCount())
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t, nil)

	h.get(t, "/api/prices/all") // warm the cache, burn some quota
	rec, body := h.get(t, "/api/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	cacheStats := body["cache"].(map[string]interface{})
	assert.Equal(t, float64(len(h.cfg.Keys())), cacheStats["size"])

	usage := body["rateLimits"].(map[string]interface{})[config.UpstreamMarketData].(map[string]interface{})
	assert.Equal(t, float64(5), usage["limit"])
	assert.Equal(t, float64(len(h.cfg.MarketKeys)), usage["used"])

	sched := body["scheduler"].(map[string]interface{})
	assert.Equal(t, 30.0, sched["interval"])
	assert.Equal(t, 60.0, sched["refreshThreshold"])
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	h := newAPIHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
