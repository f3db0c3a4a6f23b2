package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/strdash/price-proxy/api"
	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/fetcher"
	"github.com/strdash/price-proxy/ratelimit"
	"github.com/strdash/price-proxy/scheduler"
	"github.com/strdash/price-proxy/upstream"
)

// Setup assembles all components in dependency order: cache and rate
// limiter first, the fetcher capturing both, the refresher capturing
// the fetcher, and the HTTP server capturing everything. The refresher
// registers before the server so the startup seed completes before the
// service starts listening.
func Setup(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Registry, error) {
	registry := NewRegistry(log)
	clk := clock.System()

	priceCache := cache.New(cfg.TTLMin, cfg.TTLMax, clk)
	limiter := ratelimit.New(cfg.RateLimitWindow, clk)

	adapters := upstream.BuildAdapters(cfg, clk, log)
	fetchSvc := fetcher.New(cfg, priceCache, limiter, adapters, clk, log)

	refresher := scheduler.NewRefresher(cfg, fetchSvc, priceCache, log)
	registry.Register("refresher", refresher)

	server := api.New(cfg, priceCache, limiter, fetchSvc, refresher, clk, log)
	registry.Register("api", server)

	return registry, nil
}
