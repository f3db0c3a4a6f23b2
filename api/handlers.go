package api

import (
	"net/http"
	"time"

	"github.com/strdash/price-proxy/pricing"
	"github.com/strdash/price-proxy/ratelimit"
)

type responseMetadata struct {
	Cached    bool             `json:"cached"`
	Partial   bool             `json:"partial"`
	Stale     bool             `json:"stale"`
	Degraded  bool             `json:"degraded"`
	Timestamp string           `json:"timestamp"`
	TTLs      map[string]int64 `json:"ttls"`
}

type pricesResponse struct {
	Data      map[string]pricing.Value `json:"data"`
	Metadata  responseMetadata         `json:"metadata"`
	Errors    []string                 `json:"errors"`
	Successes []string                 `json:"successes"`
}

type serverErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// handlePricesAll serves the aggregated price set. 200 on fully-fresh
// or fully-cached success, 207 on partial success, 503 only when the
// handler itself fails unexpectedly; upstream failures never surface as
// 5xx while any cached value exists.
func (s *Server) handlePricesAll(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)

	if r.URL.Query().Get("force") == "true" {
		s.log.Info().Msg("force refresh requested, clearing cache")
		s.cache.Clear()
	}

	res := s.fetcher.FetchAll(r.Context())

	ttls := make(map[string]int64, len(s.cfg.Keys()))
	for _, key := range s.cfg.Keys() {
		ttls[key] = int64(s.cache.RemainingTTL(key).Seconds())
	}

	status := http.StatusOK
	if res.Partial && len(res.Errors) > 0 {
		status = http.StatusMultiStatus
	}

	s.sendJSON(w, status, pricesResponse{
		Data: res.Data,
		Metadata: responseMetadata{
			Cached:    res.Cached,
			Partial:   res.Partial,
			Stale:     res.Stale,
			Degraded:  res.Degraded(),
			Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
			TTLs:      ttls,
		},
		Errors:    res.Errors,
		Successes: res.Successes,
	})
}

// handleHealth reports cache stats, per-upstream quota usage and the
// scheduler state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	defer s.recoverHandler(w)

	rateLimits := make(map[string]ratelimit.Usage, len(s.cfg.Quotas))
	for upstreamName, limit := range s.cfg.Quotas {
		rateLimits[upstreamName] = s.limiter.Usage(upstreamName, limit)
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"timestamp":  s.clock.Now().UTC().Format(time.RFC3339),
		"uptime":     s.clock.Since(s.started).Seconds(),
		"cache":      s.cache.Stats(),
		"rateLimits": rateLimits,
		"scheduler":  s.refresher.Status(),
	})
}

// handlePing is the liveness probe.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": "Not found",
		"path":  r.URL.Path,
	})
}

// recoverHandler converts a handler panic into the 503 body callers are
// told to retry on.
func (s *Server) recoverHandler(w http.ResponseWriter) {
	if rec := recover(); rec != nil {
		s.log.Error().Interface("panic", rec).Msg("handler panicked")
		s.sendJSON(w, http.StatusServiceUnavailable, serverErrorResponse{
			Error:      "Internal server error",
			Message:    "temporary failure, retry later",
			RetryAfter: 30,
		})
	}
}
