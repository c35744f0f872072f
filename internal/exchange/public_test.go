package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketSummaryBody = `{
	"CreatedTimestampUtc": "2024-03-01T10:00:00.000Z",
	"CurrentHighestBidPrice": 50000.10000000,
	"CurrentLowestOfferPrice": 50001.90000000,
	"DayHighestPrice": 51000.0,
	"DayLowestPrice": 49000.0,
	"LastPrice": 50000.5,
	"PrimaryCurrencyCode": "Xbt",
	"SecondaryCurrencyCode": "Aud"
}`

func newPublicTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Public) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewPublic(&ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second})
	return srv, client
}

func Test_FetchSpread_Success(t *testing.T) {
	_, client := newPublicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/GetMarketSummary", r.URL.Path)
		assert.Equal(t, "Xbt", r.URL.Query().Get("primaryCurrencyCode"))
		assert.Equal(t, "Aud", r.URL.Query().Get("secondaryCurrencyCode"))
		w.Write([]byte(marketSummaryBody))
	})

	reading, err := client.FetchSpread(context.Background(), "Xbt", "Aud")
	require.NoError(t, err)

	assert.Equal(t, "Xbt-Aud", reading.Pair)
	assert.Equal(t, "50000.1", reading.Bid.String())
	assert.Equal(t, "50001.9", reading.Ask.String())
	assert.Equal(t, "1.8", reading.Spread().String())
	assert.True(t, reading.Valid())
	assert.WithinDuration(t, time.Now(), reading.Timestamp, 5*time.Second)
}

func Test_FetchSpread_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
	}{
		{
			name:     "401 is an auth failure",
			status:   http.StatusUnauthorized,
			wantKind: KindAuth,
		},
		{
			name:     "403 is an auth failure",
			status:   http.StatusForbidden,
			wantKind: KindAuth,
		},
		{
			name:     "429 is rate limiting",
			status:   http.StatusTooManyRequests,
			wantKind: KindRateLimited,
		},
		{
			name:     "500 is a transport failure",
			status:   http.StatusInternalServerError,
			wantKind: KindTransport,
		},
		{
			name:     "Unexpected status is a protocol failure",
			status:   http.StatusTeapot,
			wantKind: KindProtocol,
		},
		{
			name:     "Malformed JSON is a protocol failure",
			status:   http.StatusOK,
			body:     `{"CurrentHighestBidPrice": "not-a-number`,
			wantKind: KindProtocol,
		},
		{
			name:     "Missing fields are a protocol failure",
			status:   http.StatusOK,
			body:     `{}`,
			wantKind: KindProtocol,
		},
		{
			name:     "Non-positive prices are a protocol failure",
			status:   http.StatusOK,
			body:     `{"CreatedTimestampUtc":"x","CurrentHighestBidPrice":0,"CurrentLowestOfferPrice":0,"PrimaryCurrencyCode":"Xbt","SecondaryCurrencyCode":"Aud"}`,
			wantKind: KindProtocol,
		},
		{
			name:     "Crossed book is a protocol failure",
			status:   http.StatusOK,
			body:     `{"CreatedTimestampUtc":"x","CurrentHighestBidPrice":50002,"CurrentLowestOfferPrice":50001,"PrimaryCurrencyCode":"Xbt","SecondaryCurrencyCode":"Aud"}`,
			wantKind: KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newPublicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != "" {
					w.Write([]byte(tt.body))
				}
			})

			_, err := client.FetchSpread(context.Background(), "Xbt", "Aud")
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))

			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "GetMarketSummary", fe.Op)
		})
	}
}

func Test_FetchSpread_ConnectionRefusedIsTransport(t *testing.T) {
	srv, client := newPublicTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.FetchSpread(context.Background(), "Xbt", "Aud")
	require.Error(t, err)
	assert.Equal(t, KindTransport, KindOf(err))

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Retryable())
}

func Test_GetOrderBook(t *testing.T) {
	_, client := newPublicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/GetOrderBook", r.URL.Path)
		w.Write([]byte(`{
			"BuyOrders": [{"OrderType": "LimitBid", "Price": 500.0, "Volume": 1.0}],
			"SellOrders": [{"OrderType": "LimitOffer", "Price": 501.0, "Volume": 0.5}],
			"PrimaryCurrencyCode": "Xbt",
			"SecondaryCurrencyCode": "Aud"
		}`))
	})

	ob, err := client.GetOrderBook(context.Background(), "Xbt", "Aud")
	require.NoError(t, err)
	require.Len(t, ob.BuyOrders, 1)
	require.Len(t, ob.SellOrders, 1)
	assert.Equal(t, "500", ob.BuyOrders[0].Price.String())
	assert.Equal(t, "501", ob.SellOrders[0].Price.String())
}

func Test_GetValidCurrencyCodes(t *testing.T) {
	_, client := newPublicTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/GetValidPrimaryCurrencyCodes":
			w.Write([]byte(`["Xbt","Eth","Ltc"]`))
		case "/GetValidSecondaryCurrencyCodes":
			w.Write([]byte(`["Aud","Usd","Nzd"]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	primary, err := client.GetValidPrimaryCurrencyCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Xbt", "Eth", "Ltc"}, primary)

	secondary, err := client.GetValidSecondaryCurrencyCodes(context.Background())
	require.NoError(t, err)
	assert.Contains(t, secondary, "Aud")
}

func Test_NewPublic_Defaults(t *testing.T) {
	client := NewPublic(nil)
	assert.Equal(t, defaultPublicConfig.BaseURL, client.config.BaseURL)
	assert.Equal(t, defaultPublicConfig.Timeout, client.config.Timeout)

	// Partial config keeps defaults for the rest.
	client = NewPublic(&ClientConfig{Timeout: time.Second})
	assert.Equal(t, defaultPublicConfig.BaseURL, client.config.BaseURL)
	assert.Equal(t, time.Second, client.config.Timeout)
}
