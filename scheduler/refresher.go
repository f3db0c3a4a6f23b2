package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/fetcher"
)

// Status is the scheduler snapshot exposed by the health endpoint.
type Status struct {
	Running          bool    `json:"running"`
	Interval         float64 `json:"interval"`
	RefreshThreshold float64 `json:"refreshThreshold"`
}

// Refresher keeps the cache warm without client involvement. On every
// tick it re-fetches entries whose remaining TTL has dropped below the
// refresh threshold, and seeds the whole key set when the cache is
// empty. Per-key failures are logged and never fail a tick.
//
// Provided the interval is below the threshold, which is below the
// minimum TTL, every entry is inspected while still fresh, so under
// healthy upstreams clients never observe an expired entry.
type Refresher struct {
	cfg     *config.Config
	fetcher *fetcher.Service
	cache   *cache.PriceCache
	sched   *Scheduler
	log     zerolog.Logger
}

// NewRefresher wires the refresh loop over the fetcher and cache.
func NewRefresher(cfg *config.Config, fetchSvc *fetcher.Service, priceCache *cache.PriceCache, log zerolog.Logger) *Refresher {
	r := &Refresher{
		cfg:     cfg,
		fetcher: fetchSvc,
		cache:   priceCache,
		log:     log.With().Str("component", "refresher").Logger(),
	}
	r.sched = New("refresher", cfg.SchedulerInterval, func(ctx context.Context) {
		r.RefreshOnce(ctx)
	}, log)
	return r
}

// Start implements core.Interface. When seeding is configured the
// initial fetch runs synchronously so the cache is warm before the
// HTTP surface starts; seed errors are logged, not fatal.
func (r *Refresher) Start(ctx context.Context) error {
	if r.cfg.SeedOnStartup {
		r.log.Info().Msg("seeding cache on startup")
		res := r.fetcher.FetchAll(ctx)
		if res.Partial {
			r.log.Warn().Strs("errors", res.Errors).Msg("startup seed completed with errors")
		} else {
			r.log.Info().Int("keys", len(res.Data)).Msg("startup seed complete")
		}
	}

	r.sched.Start(ctx, false)
	return nil
}

// Stop implements core.Interface; it is idempotent.
func (r *Refresher) Stop() {
	r.sched.Stop()
}

// RefreshOnce is one tick of the refresh loop: snapshot the cache, seed
// it when empty, otherwise concurrently re-fetch every entry under the
// refresh threshold.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	entries := r.cache.Entries()

	if len(entries) == 0 {
		r.log.Info().Msg("cache empty, seeding")
		res := r.fetcher.FetchAll(ctx)
		if res.Partial {
			r.log.Warn().Strs("errors", res.Errors).Msg("seed completed with errors")
		}
		return
	}

	var wg sync.WaitGroup
	for key := range entries {
		if r.cache.RemainingTTL(key) >= r.cfg.RefreshThreshold {
			continue
		}
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if res := r.fetcher.FetchAndCache(ctx, key); res.Err != nil {
				r.log.Warn().Str("key", key).Err(res.Err).Msg("refresh failed")
			}
		}(key)
	}
	wg.Wait()
}

// Status returns the snapshot served by the health endpoint.
func (r *Refresher) Status() Status {
	return Status{
		Running:          r.sched.IsRunning(),
		Interval:         r.cfg.SchedulerInterval.Seconds(),
		RefreshThreshold: r.cfg.RefreshThreshold.Seconds(),
	}
}
