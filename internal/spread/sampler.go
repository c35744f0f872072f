package spread

import (
	"context"

	"github.com/rs/zerolog/log"

	"spreadbot/internal/model"
)

// SpreadFetcher is the capability the sampler needs from the exchange:
// one reading of the current best bid/ask for a pair. Implemented by
// exchange.Public.
type SpreadFetcher interface {
	FetchSpread(ctx context.Context, base, quote string) (model.SpreadReading, error)
}

// Sampler drives the exchange client on behalf of the supervisor: one
// fetch per call, forwarded to the aggregator on success.
//
// The sampler performs no retries and classifies nothing; failures
// propagate upward untouched so the supervisor owns the retry policy.
type Sampler struct {
	client SpreadFetcher
	agg    *Aggregator
	base   string
	quote  string
}

// NewSampler creates a sampler for the pair backed by client, feeding agg.
func NewSampler(client SpreadFetcher, agg *Aggregator, base, quote string) *Sampler {
	return &Sampler{
		client: client,
		agg:    agg,
		base:   base,
		quote:  quote,
	}
}

// PollOnce performs exactly one fetch. On success the reading is folded
// into the aggregator; on failure the aggregator is left untouched and
// the error is returned to the caller.
func (s *Sampler) PollOnce(ctx context.Context) error {
	reading, err := s.client.FetchSpread(ctx, s.base, s.quote)
	if err != nil {
		return err
	}

	if !s.agg.Observe(reading) {
		// Crossed book: discard, don't record.
		log.Warn().
			Str("pair", reading.Pair).
			Str("bid", reading.Bid.String()).
			Str("ask", reading.Ask.String()).
			Msg("discarding invalid reading")
		return nil
	}

	log.Debug().
		Str("pair", reading.Pair).
		Str("spread", reading.Spread().String()).
		Str("percent", reading.SpreadPercent().String()).
		Msg("sample recorded")
	return nil
}
