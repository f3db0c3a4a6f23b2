package upstream

import (
	"context"
	"errors"

	"github.com/strdash/price-proxy/pricing"
)

// ErrMissingCredential is returned when the market-data upstream is
// called without its API key configured. It is a configuration error:
// no request is dispatched and no retry happens.
var ErrMissingCredential = errors.New("market-data API key not configured")

// Adapter binds one price key to its upstream oracle: the URL to call,
// the parser for the payload, and the upstream identifier the quota
// ledger is keyed by.
type Adapter interface {
	Key() string
	Upstream() string
	Fetch(ctx context.Context) (pricing.Value, error)
}
