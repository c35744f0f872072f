// Package model defines the core data types for the spread collector.
//
// All monetary values use decimal.Decimal for precise financial
// calculations, avoiding the floating-point rounding errors that would
// otherwise accumulate across a long-running sampling process.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SpreadReading is a single observation of the best bid/ask for a
// currency pair, taken at one point in time.
//
// Readings are created by the exchange client on each poll, consumed
// immediately by the aggregator and never retained.
type SpreadReading struct {
	Pair      string          // Currency pair (e.g. "Xbt-Aud")
	Bid       decimal.Decimal // Current highest bid price
	Ask       decimal.Decimal // Current lowest offer price
	Timestamp time.Time       // When the reading was taken
}

// Valid reports whether the reading is internally consistent.
// A reading where the ask is below the bid is a crossed book and is
// discarded rather than recorded.
func (r SpreadReading) Valid() bool {
	return r.Ask.GreaterThanOrEqual(r.Bid)
}

// Spread returns the absolute spread (ask minus bid).
func (r SpreadReading) Spread() decimal.Decimal {
	return r.Ask.Sub(r.Bid)
}

// SpreadPercent returns the spread as a fraction of the bid price.
// Returns zero when the bid is zero.
func (r SpreadReading) SpreadPercent() decimal.Decimal {
	if r.Bid.IsZero() {
		return decimal.Zero
	}
	return r.Spread().Div(r.Bid)
}

// Band thresholds, as fractions of the bid price.
var (
	bandTwo   = decimal.New(2, -3) // 0.2%
	bandThree = decimal.New(3, -3) // 0.3%
	bandFour  = decimal.New(4, -3) // 0.4%
)

// PercentBands is a per-window distribution of spread percents, counted
// in tenths of a percent: under 0.2%, 0.2-0.3%, 0.3-0.4%, and 0.4% or
// more. The band counts always sum to the window's sample count.
type PercentBands struct {
	UnderTwo    int
	TwoToThree  int
	ThreeToFour int
	FourPlus    int
}

// Count adds one sample with the given spread percent to its band.
func (b *PercentBands) Count(percent decimal.Decimal) {
	switch {
	case percent.LessThan(bandTwo):
		b.UnderTwo++
	case percent.LessThan(bandThree):
		b.TwoToThree++
	case percent.LessThan(bandFour):
		b.ThreeToFour++
	default:
		b.FourPlus++
	}
}

// Total returns the number of samples counted across all bands.
func (b PercentBands) Total() int {
	return b.UnderTwo + b.TwoToThree + b.ThreeToFour + b.FourPlus
}

// FlushRecord is the summary of one aggregation window, produced by
// draining the aggregator and handed to the persistence sink.
//
// When SampleCount is zero the window saw no accepted readings and the
// min/max fields are meaningless; such records are still persisted so
// that sampling gaps remain visible in the output.
type FlushRecord struct {
	Pair        string
	WindowStart time.Time
	WindowEnd   time.Time
	MinSpread   decimal.Decimal
	MaxSpread   decimal.Decimal
	MinPercent  decimal.Decimal
	MaxPercent  decimal.Decimal
	Bands       PercentBands
	SampleCount int
}

// Empty reports whether the window produced no accepted readings.
func (fr FlushRecord) Empty() bool { return fr.SampleCount == 0 }
