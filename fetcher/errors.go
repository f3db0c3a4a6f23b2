package fetcher

import "errors"

var (
	// ErrUnknownKey is returned for keys outside the configured set.
	ErrUnknownKey = errors.New("unknown price key")

	// ErrQuotaDenied is returned when the sliding-window ledger refuses
	// admission. Not retried within the request: the window has to
	// slide first.
	ErrQuotaDenied = errors.New("upstream quota exhausted")
)
