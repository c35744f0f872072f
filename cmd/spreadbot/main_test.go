package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadbot/internal/exchange"
)

// pathRecorder wraps a handler and remembers every request path seen.
type pathRecorder struct {
	mu    sync.Mutex
	paths []string
	next  http.HandlerFunc
}

func (pr *pathRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pr.mu.Lock()
	pr.paths = append(pr.paths, r.URL.Path)
	pr.mu.Unlock()
	pr.next(w, r)
}

func (pr *pathRecorder) seen() []string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]string, len(pr.paths))
	copy(out, pr.paths)
	return out
}

func newSmokeClients(t *testing.T, publicHandler, privateHandler http.HandlerFunc) (*exchange.Public, *exchange.Private, *pathRecorder, *pathRecorder) {
	t.Helper()

	pubRec := &pathRecorder{next: publicHandler}
	pubSrv := httptest.NewServer(pubRec)
	t.Cleanup(pubSrv.Close)

	privRec := &pathRecorder{next: privateHandler}
	privSrv := httptest.NewServer(privRec)
	t.Cleanup(privSrv.Close)

	pub := exchange.NewPublic(&exchange.ClientConfig{BaseURL: pubSrv.URL, Timeout: 2 * time.Second})
	priv := exchange.NewPrivate("key", "secret", &exchange.ClientConfig{BaseURL: privSrv.URL, Timeout: 2 * time.Second})
	return pub, priv, pubRec, privRec
}

func publicStub(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/GetValidPrimaryCurrencyCodes":
		w.Write([]byte(`["Xbt","Eth"]`))
	case "/GetValidSecondaryCurrencyCodes":
		w.Write([]byte(`["Aud","Usd"]`))
	case "/GetMarketSummary":
		w.Write([]byte(`{
			"CreatedTimestampUtc": "2024-03-01T10:00:00.000Z",
			"CurrentHighestBidPrice": 50000.1,
			"CurrentLowestOfferPrice": 50001.9,
			"PrimaryCurrencyCode": "Xbt",
			"SecondaryCurrencyCode": "Aud"
		}`))
	case "/GetOrderBook":
		w.Write([]byte(`{
			"BuyOrders": [{"OrderType": "LimitBid", "Price": 50000.1, "Volume": 1.0}],
			"SellOrders": [{"OrderType": "LimitOffer", "Price": 50001.9, "Volume": 0.5}],
			"PrimaryCurrencyCode": "Xbt",
			"SecondaryCurrencyCode": "Aud"
		}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func privateStub(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/GetAccounts":
		w.Write([]byte(`[{"AccountGuid": "g1", "AccountStatus": "Active", "AvailableBalance": 1.5, "CurrencyCode": "Xbt", "TotalBalance": 2.0}]`))
	case "/GetOpenOrders":
		w.Write([]byte(`{"TotalItems": 0, "PageSize": 25, "TotalPages": 0, "Data": []}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func Test_SmokeTest_ExercisesFullAPISurface(t *testing.T) {
	pub, priv, pubRec, privRec := newSmokeClients(t, publicStub, privateStub)

	err := smokeTest(context.Background(), pub, priv, "Xbt", "Aud")
	require.NoError(t, err)

	pubPaths := pubRec.seen()
	assert.Contains(t, pubPaths, "/GetValidPrimaryCurrencyCodes")
	assert.Contains(t, pubPaths, "/GetValidSecondaryCurrencyCodes")
	assert.Contains(t, pubPaths, "/GetMarketSummary")
	assert.Contains(t, pubPaths, "/GetOrderBook")

	privPaths := privRec.seen()
	assert.Contains(t, privPaths, "/GetAccounts")
	assert.Contains(t, privPaths, "/GetOpenOrders")
}

func Test_SmokeTest_ReportsFirstFailingCall(t *testing.T) {
	pub, priv, _, _ := newSmokeClients(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
		privateStub,
	)

	err := smokeTest(context.Background(), pub, priv, "Xbt", "Aud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary currency codes")
}
