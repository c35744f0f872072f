package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"spreadbot/internal/model"
)

// defaultPublicConfig provides sensible default configuration values
// for the public API client.
var defaultPublicConfig = ClientConfig{
	BaseURL: "https://api.independentreserve.com/Public",
	Timeout: 10 * time.Second,
}

// ClientConfig holds connection parameters shared by the public and
// private API clients.
type ClientConfig struct {
	// BaseURL is the HTTP endpoint of the API surface.
	BaseURL string

	// Timeout bounds every outbound request. No call may block
	// indefinitely.
	Timeout time.Duration
}

func applyDefaults(cfg *ClientConfig, def *ClientConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
}

// Public implements the unauthenticated market-data methods of the
// Independent Reserve API.
//
// Available methods include GetValidPrimaryCurrencyCodes,
// GetValidSecondaryCurrencyCodes, GetMarketSummary and GetOrderBook.
type Public struct {
	config   ClientConfig
	client   *http.Client
	validate *validator.Validate
}

// NewPublic creates a public API client. A nil cfg selects defaults.
func NewPublic(cfg *ClientConfig) *Public {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	c := *cfg
	applyDefaults(&c, &defaultPublicConfig)

	return &Public{
		config:   c,
		client:   &http.Client{Timeout: c.Timeout},
		validate: validator.New(),
	}
}

// marketSummary mirrors the GetMarketSummary response payload.
//
// Example response:
//
//	{
//		"CreatedTimestampUtc": "2014-08-05T06:42:11.3032208Z",
//		"CurrentHighestBidPrice": 500.00000000,
//		"CurrentLowestOfferPrice": 501.00000000,
//		"LastPrice": 500.25000000,
//		"PrimaryCurrencyCode": "Xbt",
//		"SecondaryCurrencyCode": "Usd",
//		...
//	}
type marketSummary struct {
	CreatedTimestampUtc     string          `json:"CreatedTimestampUtc" validate:"required"`
	CurrentHighestBidPrice  decimal.Decimal `json:"CurrentHighestBidPrice"`
	CurrentLowestOfferPrice decimal.Decimal `json:"CurrentLowestOfferPrice"`
	DayHighestPrice         decimal.Decimal `json:"DayHighestPrice"`
	DayLowestPrice          decimal.Decimal `json:"DayLowestPrice"`
	LastPrice               decimal.Decimal `json:"LastPrice"`
	PrimaryCurrencyCode     string          `json:"PrimaryCurrencyCode" validate:"required"`
	SecondaryCurrencyCode   string          `json:"SecondaryCurrencyCode" validate:"required"`
}

// PublicOrder is a single resting order in the public order book.
type PublicOrder struct {
	OrderType string          `json:"OrderType"`
	Price     decimal.Decimal `json:"Price"`
	Volume    decimal.Decimal `json:"Volume"`
}

// OrderBook is the GetOrderBook response: resting buy and sell orders
// for a pair at a point in time.
type OrderBook struct {
	BuyOrders             []PublicOrder `json:"BuyOrders"`
	SellOrders            []PublicOrder `json:"SellOrders"`
	CreatedTimestampUtc   string        `json:"CreatedTimestampUtc"`
	PrimaryCurrencyCode   string        `json:"PrimaryCurrencyCode"`
	SecondaryCurrencyCode string        `json:"SecondaryCurrencyCode"`
}

// FetchSpread retrieves the current best bid/ask for the pair via
// GetMarketSummary and returns it as a SpreadReading.
//
// The returned reading has been validated for internal consistency; a
// crossed or empty book is reported as a protocol error, never handed
// to the caller as data.
func (p *Public) FetchSpread(ctx context.Context, base, quote string) (model.SpreadReading, error) {
	const op = "GetMarketSummary"

	var ms marketSummary
	if err := p.get(ctx, op, base, quote, &ms); err != nil {
		return model.SpreadReading{}, err
	}

	if err := p.validate.Struct(&ms); err != nil {
		return model.SpreadReading{}, newFetchError(KindProtocol, op, err)
	}
	if !ms.CurrentHighestBidPrice.IsPositive() || !ms.CurrentLowestOfferPrice.IsPositive() {
		return model.SpreadReading{}, newFetchError(KindProtocol, op,
			fmt.Errorf("non-positive bid/ask: %s/%s",
				ms.CurrentHighestBidPrice, ms.CurrentLowestOfferPrice))
	}
	if ms.CurrentLowestOfferPrice.LessThan(ms.CurrentHighestBidPrice) {
		return model.SpreadReading{}, newFetchError(KindProtocol, op,
			fmt.Errorf("crossed book: bid %s above ask %s",
				ms.CurrentHighestBidPrice, ms.CurrentLowestOfferPrice))
	}

	return model.SpreadReading{
		Pair:      base + "-" + quote,
		Bid:       ms.CurrentHighestBidPrice,
		Ask:       ms.CurrentLowestOfferPrice,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GetOrderBook retrieves the full public order book for the pair.
func (p *Public) GetOrderBook(ctx context.Context, base, quote string) (OrderBook, error) {
	var ob OrderBook
	err := p.get(ctx, "GetOrderBook", base, quote, &ob)
	return ob, err
}

// GetValidPrimaryCurrencyCodes lists the base currencies the exchange supports.
func (p *Public) GetValidPrimaryCurrencyCodes(ctx context.Context) ([]string, error) {
	return p.getCodes(ctx, "GetValidPrimaryCurrencyCodes")
}

// GetValidSecondaryCurrencyCodes lists the quote currencies the exchange supports.
func (p *Public) GetValidSecondaryCurrencyCodes(ctx context.Context) ([]string, error) {
	return p.getCodes(ctx, "GetValidSecondaryCurrencyCodes")
}

func (p *Public) getCodes(ctx context.Context, op string) ([]string, error) {
	u := fmt.Sprintf("%s/%s", p.config.BaseURL, op)
	var codes []string
	if err := p.doGet(ctx, op, u, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// get performs a pair-scoped GET call and decodes the JSON response into out.
func (p *Public) get(ctx context.Context, op, base, quote string, out any) error {
	q := url.Values{}
	q.Set("primaryCurrencyCode", base)
	q.Set("secondaryCurrencyCode", quote)
	u := fmt.Sprintf("%s/%s?%s", p.config.BaseURL, op, q.Encode())

	return p.doGet(ctx, op, u, out)
}

func (p *Public) doGet(ctx context.Context, op, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return newFetchError(KindProtocol, op, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyHTTP(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return classifyHTTP(op, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newFetchError(KindProtocol, op, err)
	}
	return nil
}
