// Package spread implements the core of the collector: windowed
// min/max aggregation of spread readings, the polling sampler that
// feeds it, and the supervisor that schedules both against the
// exchange.
package spread

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"spreadbot/internal/model"
)

// Aggregator maintains the running min/max spread over the current
// aggregation window.
//
// Two independent timers (the sample cadence and the flush cadence)
// share one Aggregator, so Observe and Drain are mutually exclusive
// behind a single mutex. The lock is held only for the O(1) update or
// the O(1) drain, never across network I/O.
type Aggregator struct {
	mu sync.Mutex

	pair        string
	windowStart time.Time

	minSpread  decimal.Decimal
	maxSpread  decimal.Decimal
	minPercent decimal.Decimal
	maxPercent decimal.Decimal
	bands      model.PercentBands
	count      int
}

// NewAggregator creates an aggregator for the pair with an empty window
// starting at now.
func NewAggregator(pair string, now time.Time) *Aggregator {
	return &Aggregator{
		pair:        pair,
		windowStart: now,
	}
}

// Observe folds one reading into the current window.
//
// A reading with ask below bid is rejected: the window is left
// untouched and Observe reports false. Failed or invalid polls are
// invisible to the aggregate; they shrink the sample count, they never
// inject fabricated readings.
func (a *Aggregator) Observe(r model.SpreadReading) bool {
	if !r.Valid() {
		return false
	}

	spread := r.Spread()
	percent := r.SpreadPercent()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 {
		a.minSpread = spread
		a.maxSpread = spread
		a.minPercent = percent
		a.maxPercent = percent
		a.bands.Count(percent)
		a.count = 1
		return true
	}

	if spread.LessThan(a.minSpread) {
		a.minSpread = spread
	}
	if spread.GreaterThan(a.maxSpread) {
		a.maxSpread = spread
	}
	if percent.LessThan(a.minPercent) {
		a.minPercent = percent
	}
	if percent.GreaterThan(a.maxPercent) {
		a.maxPercent = percent
	}
	a.bands.Count(percent)
	a.count++
	return true
}

// Drain atomically captures the current window as a FlushRecord and
// resets the window to empty, starting the next window at now.
//
// Draining an empty window is valid and yields a record with
// SampleCount zero and unset bounds; such records are still persisted
// so that sampling gaps stay visible.
func (a *Aggregator) Drain(now time.Time) model.FlushRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec := model.FlushRecord{
		Pair:        a.pair,
		WindowStart: a.windowStart,
		WindowEnd:   now,
		MinSpread:   a.minSpread,
		MaxSpread:   a.maxSpread,
		MinPercent:  a.minPercent,
		MaxPercent:  a.maxPercent,
		Bands:       a.bands,
		SampleCount: a.count,
	}

	a.windowStart = now
	a.minSpread = decimal.Zero
	a.maxSpread = decimal.Zero
	a.minPercent = decimal.Zero
	a.maxPercent = decimal.Zero
	a.bands = model.PercentBands{}
	a.count = 0

	return rec
}

// SampleCount returns the number of accepted readings in the current window.
func (a *Aggregator) SampleCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}
