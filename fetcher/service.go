package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/metrics"
	"github.com/strdash/price-proxy/pricing"
	"github.com/strdash/price-proxy/ratelimit"
	"github.com/strdash/price-proxy/upstream"
)

// Result is the outcome of materialising one key. When Err is set and
// Value is non-nil, the value was served from a stale cache entry.
type Result struct {
	Key   string
	Value pricing.Value
	Stale bool
	Err   error
}

// Service materialises fresh values for the configured key set,
// honouring per-upstream quotas and the retry policy, and writing
// through to the cache. Concurrent fetches of the same key are
// coalesced: exactly one upstream call happens and every waiter
// receives the same result.
type Service struct {
	cfg      *config.Config
	cache    *cache.PriceCache
	limiter  *ratelimit.SlidingWindow
	adapters map[string]upstream.Adapter
	clock    clock.Clock
	group    singleflight.Group
	log      zerolog.Logger
}

// New creates a fetcher service over the given adapters.
func New(cfg *config.Config, priceCache *cache.PriceCache, limiter *ratelimit.SlidingWindow,
	adapters []upstream.Adapter, clk clock.Clock, log zerolog.Logger) *Service {

	byKey := make(map[string]upstream.Adapter, len(adapters))
	for _, ad := range adapters {
		byKey[ad.Key()] = ad
	}

	return &Service{
		cfg:      cfg,
		cache:    priceCache,
		limiter:  limiter,
		adapters: byKey,
		clock:    clk,
		log:      log.With().Str("component", "fetcher").Logger(),
	}
}

// FetchAndCache materialises a fresh value for key. Quota is charged
// once, at dispatch of this call, before the first attempt; retries
// inside the upstream client do not re-charge it.
func (s *Service) FetchAndCache(ctx context.Context, key string) Result {
	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		return s.fetchAndCache(ctx, key), nil
	})
	return v.(Result)
}

func (s *Service) fetchAndCache(ctx context.Context, key string) Result {
	defer metrics.RecordFetchCycle("fetchAndCache", time.Now())

	adapter, ok := s.adapters[key]
	if !ok {
		return Result{Key: key, Err: fmt.Errorf("%w: %s", ErrUnknownKey, key)}
	}

	if limit, metered := s.cfg.Quotas[adapter.Upstream()]; metered {
		if !s.limiter.CanMakeRequest(adapter.Upstream(), limit) {
			metrics.RecordQuotaDenied(adapter.Upstream())
			return s.staleOr(key, fmt.Errorf("%w: %s (%d/%v)",
				ErrQuotaDenied, adapter.Upstream(), limit, s.cfg.RateLimitWindow))
		}
		s.limiter.RecordRequest(adapter.Upstream())
	}

	value, err := adapter.Fetch(ctx)
	if err == nil {
		s.cache.Set(key, value)
		return Result{Key: key, Value: value}
	}
	return s.staleOr(key, err)
}

// staleOr is the failure tail shared by quota denials and exhausted
// fetches: a failed key never displaces what the cache still holds, so
// any retained entry is served marked stale before the error surfaces
// on its own.
func (s *Service) staleOr(key string, err error) Result {
	if entry, ok := s.cache.GetRaw(key); ok {
		s.log.Warn().Str("key", key).Err(err).
			Time("cachedAt", entry.CreatedAt).
			Msg("fetch failed, serving stale cache entry")
		return Result{Key: key, Value: entry.Value, Stale: true, Err: err}
	}

	s.log.Error().Str("key", key).Err(err).Msg("fetch failed with no cached fallback")
	return Result{Key: key, Err: err}
}
