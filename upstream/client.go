package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/strdash/price-proxy/clock"
	"github.com/strdash/price-proxy/pricing"
)

// StatusHandler receives the outcome of each upstream request attempt.
type StatusHandler interface {
	// OnRequest handles a request with its status result
	OnRequest(status string)
	// OnRetry handles retry events
	OnRetry()
}

// Request outcome statuses reported to the StatusHandler.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited"
)

// RetryOptions configures retry behaviour for upstream requests.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// BaseDelay is the sleep before the second attempt; it doubles on
	// every subsequent attempt
	BaseDelay time.Duration
	// RequestTimeout bounds a single attempt end to end
	RequestTimeout time.Duration
	LogPrefix      string
}

// Client wraps an HTTP client with exponential-backoff retries and
// optional request pacing. Transport failures, HTTP 429, 5xx responses
// and malformed payloads are all transient: they burn an attempt and
// back off. Other non-2xx statuses fail immediately.
type Client struct {
	httpClient *http.Client
	opts       RetryOptions
	handler    StatusHandler
	pacer      *rate.Limiter
	clock      clock.Clock
	log        zerolog.Logger
}

// NewClient creates a retrying client. pacer may be nil for unmetered
// upstreams; handler may be nil when no metrics are wanted.
func NewClient(opts RetryOptions, handler StatusHandler, pacer *rate.Limiter, clk clock.Clock, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: opts.RequestTimeout},
		opts:       opts,
		handler:    handler,
		pacer:      pacer,
		clock:      clk,
		log:        log.With().Str("component", opts.LogPrefix).Logger(),
	}
}

// FetchParsed issues a GET against url and parses the body, retrying
// under backoff. The parse step runs inside the retry loop so a
// malformed payload counts as a transient failure like any other.
func (c *Client) FetchParsed(ctx context.Context, url string, parse func([]byte) (pricing.Value, error)) (pricing.Value, error) {
	var lastErr error

	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if c.handler != nil {
				c.handler.OnRetry()
			}
			delay := c.opts.BaseDelay << uint(attempt-1)
			c.log.Debug().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("backing off before retry")
			if err := c.clock.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("retry aborted: %w", err)
			}
		}

		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return nil, fmt.Errorf("pacing wait failed: %w", err)
			}
		}

		body, retryable, err := c.doOnce(ctx, url)
		if err != nil {
			lastErr = err
			if !retryable {
				if c.handler != nil {
					c.handler.OnRequest(StatusError)
				}
				return nil, err
			}
			if c.handler != nil {
				c.handler.OnRequest(statusFor(err))
			}
			continue
		}

		value, err := parse(body)
		if err != nil {
			lastErr = fmt.Errorf("malformed payload: %w", err)
			if c.handler != nil {
				c.handler.OnRequest(StatusError)
			}
			continue
		}

		if c.handler != nil {
			c.handler.OnRequest(StatusSuccess)
		}
		return value, nil
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", c.opts.MaxAttempts, lastErr)
}

// doOnce executes a single attempt. The bool result reports whether the
// failure is transient.
func (c *Client) doOnce(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed after %.2fs: %w", c.clock.Since(start).Seconds(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := resp.Header.Get("Retry-After")
			return nil, true, &rateLimitedError{
				msg: fmt.Sprintf("rate limit exceeded (status %d), retry after %q: %s", resp.StatusCode, retryAfter, body),
			}
		}
		return nil, isRetryableStatus(resp.StatusCode),
			fmt.Errorf("request failed with status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}
	return body, false, nil
}

type rateLimitedError struct {
	msg string
}

func (e *rateLimitedError) Error() string { return e.msg }

func statusFor(err error) string {
	if _, ok := err.(*rateLimitedError); ok {
		return StatusRateLimited
	}
	return StatusError
}

// isRetryableStatus determines if a given HTTP status code should
// trigger a retry
func isRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
