package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/metrics"
	"github.com/strdash/price-proxy/pricing"
)

// windowSleepFraction is the conservative share of the rate-limit
// window slept between sequential keys when quota is one call short of
// the limit, letting the window slide before the next dispatch.
const windowSleepFraction = 5

// degradedThreshold is the number of errored keys above which a batch
// response is flagged degraded.
const degradedThreshold = 3

// BatchResult aggregates one materialisation of the whole key set.
// Data always carries every known key: keys that produced neither a
// fresh nor a stale value are filled from the configured fallbacks and
// still listed in Errors.
type BatchResult struct {
	Data      map[string]pricing.Value
	Errors    []string
	Successes []string
	Cached    bool
	Partial   bool
	Stale     bool
}

// Degraded reports whether enough keys erred that callers should treat
// the payload as unreliable.
func (b *BatchResult) Degraded() bool {
	return len(b.Errors) > degradedThreshold
}

func newBatchResult() *BatchResult {
	return &BatchResult{
		Data:      make(map[string]pricing.Value),
		Errors:    []string{},
		Successes: []string{},
	}
}

// FetchAll materialises every configured key.
//
// Fast path: when every key is cache-fresh the snapshot is returned
// directly with no upstream traffic. Otherwise the two unmetered keys
// are fetched concurrently, then the market-data tickers sequentially
// in their configured order, sleeping a fraction of the window whenever
// quota runs one call short of the limit with keys still remaining.
func (s *Service) FetchAll(ctx context.Context) *BatchResult {
	defer metrics.RecordFetchCycle("fetchAll", time.Now())

	keys := s.cfg.Keys()
	res := newBatchResult()

	if data, ok := s.warmSnapshot(keys); ok {
		res.Data = data
		res.Successes = append(res.Successes, keys...)
		res.Cached = true
		return res
	}

	// Concurrent head: the unmetered scalar keys.
	headKeys := []string{s.cfg.CryptoKey, s.cfg.FXKey}
	headResults := make([]Result, len(headKeys))
	var wg sync.WaitGroup
	for i, key := range headKeys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			headResults[i] = s.fetchOrAdopt(ctx, key)
		}(i, key)
	}
	wg.Wait()
	for _, r := range headResults {
		res.accumulate(r)
	}

	// Sequential tail: the quota-bearing tickers in configured order.
	limit := s.cfg.Quotas[config.UpstreamMarketData]
	for i, key := range s.cfg.MarketKeys {
		res.accumulate(s.fetchOrAdopt(ctx, key))

		if limit > 0 && i < len(s.cfg.MarketKeys)-1 {
			usage := s.limiter.Usage(config.UpstreamMarketData, limit)
			if usage.Remaining == 1 {
				pause := s.cfg.RateLimitWindow / windowSleepFraction
				s.log.Info().Dur("pause", pause).Int("used", usage.Used).
					Msg("quota nearly exhausted, letting the window slide")
				if err := s.clock.Sleep(ctx, pause); err != nil {
					s.log.Warn().Err(err).Msg("window pause cancelled")
				}
			}
		}
	}

	res.Partial = len(res.Errors) > 0
	s.fillFallbacks(res, keys)
	return res
}

// warmSnapshot collects all keys from cache; ok is false as soon as any
// key misses, in which case the caller falls through to the miss path.
func (s *Service) warmSnapshot(keys []string) (map[string]pricing.Value, bool) {
	data := make(map[string]pricing.Value, len(keys))
	for _, key := range keys {
		value, ok := s.cache.Get(key)
		if !ok {
			return nil, false
		}
		data[key] = value
	}
	return data, true
}

// fetchOrAdopt adopts a fresh cache entry when one exists, avoiding the
// upstream call entirely; otherwise it goes through FetchAndCache.
func (s *Service) fetchOrAdopt(ctx context.Context, key string) Result {
	if value, ok := s.cache.Get(key); ok {
		return Result{Key: key, Value: value}
	}
	return s.FetchAndCache(ctx, key)
}

func (b *BatchResult) accumulate(r Result) {
	if r.Err == nil {
		b.Data[r.Key] = r.Value
		b.Successes = append(b.Successes, r.Key)
		return
	}

	b.Errors = append(b.Errors, fmt.Sprintf("%s: %v", r.Key, r.Err))
	if r.Stale && r.Value != nil {
		b.Data[r.Key] = r.Value
		b.Stale = true
	}
}

// fillFallbacks substitutes the configured fallback for any key that
// ended up with no value at all. The key keeps its entry in Errors so
// callers can tell fresh from degraded.
func (s *Service) fillFallbacks(res *BatchResult, keys []string) {
	for _, key := range keys {
		if _, ok := res.Data[key]; ok {
			continue
		}
		fallback := s.fallbackFor(key)
		s.log.Warn().Str("key", key).Interface("fallback", fallback).
			Msg("no fresh or stale value, substituting configured fallback")
		res.Data[key] = fallback
	}
}

// fallbackFor builds the declared fallback for key: scalar keys get the
// bare number, market-data keys a quote carrying it as the price.
func (s *Service) fallbackFor(key string) pricing.Value {
	n := s.cfg.Fallbacks[key]
	if key == s.cfg.CryptoKey || key == s.cfg.FXKey {
		return pricing.Scalar(n)
	}
	return pricing.Quote{Price: n}
}
