package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/strdash/price-proxy/cache"
	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/config"
	"github.com/strdash/price-proxy/fetcher"
	"github.com/strdash/price-proxy/ratelimit"
	"github.com/strdash/price-proxy/scheduler"
)

// Server is the read-only HTTP surface: the aggregated-price endpoint,
// health, liveness ping and prometheus metrics.
type Server struct {
	cfg       *config.Config
	cache     *cache.PriceCache
	limiter   *ratelimit.SlidingWindow
	fetcher   *fetcher.Service
	refresher *scheduler.Refresher
	clock     clock.Clock
	log       zerolog.Logger
	server    *http.Server
	started   time.Time
}

// New creates the HTTP server over the assembled components.
func New(cfg *config.Config, priceCache *cache.PriceCache, limiter *ratelimit.SlidingWindow,
	fetchSvc *fetcher.Service, refresher *scheduler.Refresher, clk clock.Clock, log zerolog.Logger) *Server {

	return &Server{
		cfg:       cfg,
		cache:     priceCache,
		limiter:   limiter,
		fetcher:   fetchSvc,
		refresher: refresher,
		clock:     clk,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP handler. Exposed separately from Start so
// tests can drive it through httptest without binding a port.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	// Any origin, read-only methods
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/api/prices/all", s.handlePricesAll).Methods(http.MethodGet)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/ping", s.handlePing).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())

	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	return router
}

// Start implements core.Interface.
func (s *Server) Start(ctx context.Context) error {
	s.started = s.clock.Now()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server starting")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error().Err(err).Msg("error shutting down server")
	}
}

// loggingMiddleware logs every request with its duration and status.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
