package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// defaultPrivateConfig provides sensible default configuration values
// for the private API client.
var defaultPrivateConfig = ClientConfig{
	BaseURL: "https://api.independentreserve.com/Private",
	Timeout: 10 * time.Second,
}

// Private implements the authenticated methods of the Independent
// Reserve API.
//
// Every call is a POST whose body carries the API key, a
// monotonically increasing nonce and an HMAC-SHA256 signature over the
// method URL and all parameters. The nonce is seeded from unix time so
// that process restarts never reuse a value.
type Private struct {
	config    ClientConfig
	client    *http.Client
	apiKey    string
	apiSecret string
	nonce     atomic.Uint64
}

// NewPrivate creates a private API client using the given read-only
// key pair. A nil cfg selects defaults.
func NewPrivate(apiKey, apiSecret string, cfg *ClientConfig) *Private {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	c := *cfg
	applyDefaults(&c, &defaultPrivateConfig)

	p := &Private{
		config:    c,
		client:    &http.Client{Timeout: c.Timeout},
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
	p.nonce.Store(uint64(time.Now().Unix()))
	return p
}

// Param is a single named parameter of a private API call. Parameter
// order is significant: the signature covers parameters in the order
// given.
type Param struct {
	Name  string
	Value string
}

// Account is one currency account as returned by GetAccounts.
type Account struct {
	AccountGuid      string          `json:"AccountGuid"`
	AccountStatus    string          `json:"AccountStatus"`
	AvailableBalance decimal.Decimal `json:"AvailableBalance"`
	CurrencyCode     string          `json:"CurrencyCode"`
	TotalBalance     decimal.Decimal `json:"TotalBalance"`
}

// Order is one order as returned by the order-listing methods.
type Order struct {
	OrderGuid     string          `json:"OrderGuid"`
	OrderType     string          `json:"OrderType"`
	Price         decimal.Decimal `json:"Price"`
	Volume        decimal.Decimal `json:"Volume"`
	Outstanding   decimal.Decimal `json:"Outstanding"`
	Status        string          `json:"Status"`
	PrimaryCode   string          `json:"PrimaryCurrencyCode"`
	SecondaryCode string          `json:"SecondaryCurrencyCode"`
}

// orderPage is the paged envelope the order-listing methods return.
type orderPage struct {
	TotalItems int     `json:"TotalItems"`
	PageSize   int     `json:"PageSize"`
	TotalPages int     `json:"TotalPages"`
	Data       []Order `json:"Data"`
}

const pageSize = 25

// GetAccounts retrieves the balances of every currency account.
func (p *Private) GetAccounts(ctx context.Context) ([]Account, error) {
	raw, err := p.Call(ctx, "GetAccounts")
	if err != nil {
		return nil, err
	}

	var accounts []Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, newFetchError(KindProtocol, "GetAccounts", err)
	}
	return accounts, nil
}

// GetOpenOrders retrieves one page of the currently open orders for a pair.
func (p *Private) GetOpenOrders(ctx context.Context, base, quote string, pageIndex int) ([]Order, error) {
	raw, err := p.Call(ctx, "GetOpenOrders",
		Param{"primaryCurrencyCode", base},
		Param{"secondaryCurrencyCode", quote},
		Param{"pageIndex", strconv.Itoa(pageIndex)},
		Param{"pageSize", strconv.Itoa(pageSize)},
	)
	if err != nil {
		return nil, err
	}

	var page orderPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, newFetchError(KindProtocol, "GetOpenOrders", err)
	}
	return page.Data, nil
}

// Call performs an arbitrary authenticated API call and returns the raw
// response body. Parameters are signed and sent in the order given.
func (p *Private) Call(ctx context.Context, method string, params ...Param) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/%s", p.config.BaseURL, method)
	nonce := p.nonce.Add(1)

	// Signature message: "url,apiKey=K,nonce=N[,name=value...]".
	msg := fmt.Sprintf("%s,apiKey=%s,nonce=%d", u, p.apiKey, nonce)
	body := map[string]any{
		"apiKey": p.apiKey,
		"nonce":  nonce,
	}
	for _, param := range params {
		msg += fmt.Sprintf(",%s=%s", param.Name, param.Value)
		body[param.Name] = param.Value
	}
	body["signature"] = sign(msg, p.apiSecret)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, newFetchError(KindProtocol, method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, newFetchError(KindProtocol, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTP(method, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyHTTP(method, 0, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(method, resp.StatusCode, nil)
	}
	return raw, nil
}

// sign computes the hex-encoded HMAC-SHA256 of msg under secret.
func sign(msg, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
