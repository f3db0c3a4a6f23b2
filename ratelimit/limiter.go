package ratelimit

import (
	"sync"
	"time"

	"github.com/strdash/price-proxy/clock"
)

// Usage is a snapshot of one upstream's quota consumption.
type Usage struct {
	Used      int     `json:"used"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
	ResetIn   float64 `json:"resetIn"`
}

// SlidingWindow enforces a per-upstream request quota over a sliding
// window. Each upstream has an append-only ledger of request
// timestamps; timestamps older than the window are dropped on every
// operation, so the ledger stays bounded.
//
// Callers must check CanMakeRequest before an upstream call and
// RecordRequest at the moment of dispatch. Dispatch consumes quota even
// when the upstream call ultimately fails: refunding failed dispatches
// would let a misbehaving upstream blow past its quota via retry
// storms.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	clock  clock.Clock
	ledger map[string][]time.Time
}

// New creates a SlidingWindow with the given window length.
func New(window time.Duration, clk clock.Clock) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		clock:  clk,
		ledger: make(map[string][]time.Time),
	}
}

// CanMakeRequest reports whether upstream is under its limit.
func (sw *SlidingWindow) CanMakeRequest(upstream string, limit int) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cleanupLocked(upstream, sw.clock.Now())
	return len(sw.ledger[upstream]) < limit
}

// RecordRequest appends the current instant to upstream's ledger.
func (sw *SlidingWindow) RecordRequest(upstream string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	sw.cleanupLocked(upstream, now)
	sw.ledger[upstream] = append(sw.ledger[upstream], now)
}

// Usage returns the current consumption snapshot for upstream. ResetIn
// is the number of seconds until the oldest retained timestamp leaves
// the window, zero when the ledger is empty.
func (sw *SlidingWindow) Usage(upstream string, limit int) Usage {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	sw.cleanupLocked(upstream, now)

	timestamps := sw.ledger[upstream]
	used := len(timestamps)

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	var resetIn float64
	if used > 0 {
		resetIn = (sw.window - now.Sub(timestamps[0])).Seconds()
		if resetIn < 0 {
			resetIn = 0
		}
	}

	return Usage{
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// Reset clears every ledger.
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.ledger = make(map[string][]time.Time)
}

// cleanupLocked drops timestamps that have left the window. Retained
// timestamps all satisfy now-ts < window.
func (sw *SlidingWindow) cleanupLocked(upstream string, now time.Time) {
	timestamps := sw.ledger[upstream]
	if len(timestamps) == 0 {
		return
	}

	keep := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < sw.window {
			keep = append(keep, ts)
		}
	}
	sw.ledger[upstream] = keep
}
