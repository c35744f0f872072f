package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"spreadbot/internal/model"
	"spreadbot/internal/websocket"
)

// defaultStreamConfig provides sensible default configuration values
// for the ticker stream.
var defaultStreamConfig = ClientConfig{
	BaseURL: "wss://websockets.independentreserve.com",
	Timeout: 10 * time.Second,
}

// TickerStream subscribes to the exchange ticker WebSocket channel and
// delivers a SpreadReading whenever the best bid or offer changes.
//
// The stream is observation only: it feeds the watch mode and never
// touches the aggregation window, whose cadence is owned by the REST
// sampler.
type TickerStream struct {
	config   ClientConfig
	validate *validator.Validate
}

// tickerEvent mirrors one ticker channel message.
//
// Example message:
//
//	{
//		"Channel": "ticker-xbt-aud",
//		"Event": "Trade",
//		"Data": {"Pair": "xbt-aud", "BestBid": 50000.1, "BestOffer": 50001.9}
//	}
type tickerEvent struct {
	Channel string `json:"Channel" validate:"required"`
	Event   string `json:"Event"`
	Data    struct {
		Pair      string          `json:"Pair" validate:"required"`
		BestBid   decimal.Decimal `json:"BestBid"`
		BestOffer decimal.Decimal `json:"BestOffer"`
	} `json:"Data"`
}

// NewTickerStream creates a ticker stream. A nil cfg selects defaults.
func NewTickerStream(cfg *ClientConfig) *TickerStream {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	c := *cfg
	applyDefaults(&c, &defaultStreamConfig)

	return &TickerStream{
		config:   c,
		validate: validator.New(),
	}
}

// Subscribe connects to the ticker channel for the pair and returns a
// channel of readings. The channel closes when the connection is lost
// or ctx is cancelled.
func (ts *TickerStream) Subscribe(ctx context.Context, base, quote string) (<-chan model.SpreadReading, error) {
	channel := fmt.Sprintf("ticker-%s-%s", strings.ToLower(base), strings.ToLower(quote))
	endpoint := fmt.Sprintf("%s?subscribe=%s", ts.config.BaseURL, channel)

	client, err := websocket.NewClient(ctx, websocket.Config{
		Endpoint: endpoint,
		Handler:  ts.handleTickerMessage,
	})
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to create ticker stream client")
		return nil, err
	}

	return client.ReadingChan, nil
}

// handleTickerMessage decodes one ticker frame into a SpreadReading.
// Heartbeat and subscription acknowledgements carry no price data and
// are skipped silently; crossed readings are dropped before they reach
// consumers.
func (ts *TickerStream) handleTickerMessage(raw []byte, out chan<- model.SpreadReading) error {
	var ev tickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Error().Err(err).Msg("invalid ticker JSON")
		return err
	}

	if ev.Data.BestBid.IsZero() && ev.Data.BestOffer.IsZero() {
		return nil
	}

	if err := ts.validate.Struct(&ev); err != nil {
		log.Warn().Err(err).Msg("ticker event validation failed")
		return err
	}

	reading := model.SpreadReading{
		Pair:      normalizePair(ev.Data.Pair),
		Bid:       ev.Data.BestBid,
		Ask:       ev.Data.BestOffer,
		Timestamp: time.Now().UTC(),
	}
	if !reading.Valid() {
		log.Warn().
			Str("bid", reading.Bid.String()).
			Str("ask", reading.Ask.String()).
			Msg("dropping crossed ticker reading")
		return nil
	}

	out <- reading
	return nil
}

// normalizePair converts the wire pair form ("xbt-aud") to the currency
// code form used throughout the collector ("Xbt-Aud").
func normalizePair(pair string) string {
	parts := strings.Split(strings.ToLower(pair), "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "-")
}
