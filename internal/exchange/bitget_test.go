package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testCreds = Credentials{
	APIKey:     "test-key",
	SecretKey:  "test-secret",
	Passphrase: "test-pass",
}

// recordedRequest 记录一次到达 mock 服务器的请求
type recordedRequest struct {
	Method string
	Path   string
	Body   map[string]any
	Header http.Header
}

type mockVenue struct {
	mu       sync.Mutex
	requests []recordedRequest
	// path -> 响应 JSON
	responses map[string]string
	status    int
}

func newMockVenue() *mockVenue {
	return &mockVenue{
		responses: map[string]string{},
		status:    http.StatusOK,
	}
}

func (m *mockVenue) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}

		m.mu.Lock()
		m.requests = append(m.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   body,
			Header: r.Header.Clone(),
		})
		resp, ok := m.responses[r.URL.Path]
		status := m.status
		m.mu.Unlock()

		if !ok {
			resp = `{"code":"00000","msg":"success","data":{}}`
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}
}

func (m *mockVenue) requestsFor(path string) []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recordedRequest
	for _, r := range m.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, venue *mockVenue) (*BitgetClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)
	client := NewBitgetClient(srv.URL, testCreds, 5*time.Second, rate.NewLimiter(rate.Inf, 1))
	return client, srv
}

func TestRequestSigningHeaders(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/account/accounts"] = `{"code":"00000","msg":"success","data":[{"marginCoin":"USDT","available":"123.45"}]}`
	client, _ := newTestClient(t, venue)

	balance, err := client.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.InDelta(t, 123.45, balance, 1e-9)

	reqs := venue.requestsFor("/api/v2/mix/account/accounts")
	require.Len(t, reqs, 1)
	h := reqs[0].Header

	assert.Equal(t, "test-key", h.Get("ACCESS-KEY"))
	assert.Equal(t, "test-pass", h.Get("ACCESS-PASSPHRASE"))
	require.NotEmpty(t, h.Get("ACCESS-TIMESTAMP"))
	require.NotEmpty(t, h.Get("ACCESS-SIGN"))

	// 用同样的材料重算签名核对
	path := "/api/v2/mix/account/accounts?productType=USDT-FUTURES"
	mac := hmac.New(sha256.New, []byte(testCreds.SecretKey))
	mac.Write([]byte(h.Get("ACCESS-TIMESTAMP") + http.MethodGet + path))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, h.Get("ACCESS-SIGN"))
}

func TestOpenPositionSidesAndLeverage(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/order/place-order"] = `{"code":"00000","msg":"success","data":{"orderId":"ord-1"}}`
	client, _ := newTestClient(t, venue)

	res, err := client.OpenPosition(context.Background(), "BTCUSDT_UMCBL", "long", 0.0119, 5)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.NotEmpty(t, res.ClientOrderID)

	// 杠杆对多空两侧各设一次
	levReqs := venue.requestsFor("/api/v2/mix/account/set-leverage")
	require.Len(t, levReqs, 2)
	sides := []string{levReqs[0].Body["holdSide"].(string), levReqs[1].Body["holdSide"].(string)}
	assert.ElementsMatch(t, []string{"long", "short"}, sides)
	assert.Equal(t, "5", levReqs[0].Body["leverage"])

	orderReqs := venue.requestsFor("/api/v2/mix/order/place-order")
	require.Len(t, orderReqs, 1)
	assert.Equal(t, "buy", orderReqs[0].Body["side"])
	assert.Equal(t, "open", orderReqs[0].Body["tradeSide"])
	assert.Equal(t, "0.0119", orderReqs[0].Body["size"])

	// 开空发卖单
	_, err = client.OpenPosition(context.Background(), "BTCUSDT_UMCBL", "short", 1, 0)
	require.NoError(t, err)
	orderReqs = venue.requestsFor("/api/v2/mix/order/place-order")
	require.Len(t, orderReqs, 2)
	assert.Equal(t, "sell", orderReqs[1].Body["side"])

	// 未指定杠杆时不再调用 set-leverage
	assert.Len(t, venue.requestsFor("/api/v2/mix/account/set-leverage"), 2)
}

func TestClosePositionSideInversion(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/order/place-order"] = `{"code":"00000","msg":"success","data":{"orderId":"ord-2"}}`
	client, _ := newTestClient(t, venue)

	// 平多 -> 卖
	_, err := client.ClosePosition(context.Background(), "BTCUSDT_UMCBL", "long", 2)
	require.NoError(t, err)
	// 平空 -> 买
	_, err = client.ClosePosition(context.Background(), "BTCUSDT_UMCBL", "short", 2)
	require.NoError(t, err)

	reqs := venue.requestsFor("/api/v2/mix/order/place-order")
	require.Len(t, reqs, 2)
	assert.Equal(t, "sell", reqs[0].Body["side"])
	assert.Equal(t, "buy", reqs[1].Body["side"])
	assert.Equal(t, "close", reqs[0].Body["tradeSide"])
	assert.Equal(t, "close", reqs[1].Body["tradeSide"])
}

func TestOpenPositionValidation(t *testing.T) {
	venue := newMockVenue()
	client, _ := newTestClient(t, venue)

	var vErr *ValidationError
	_, err := client.OpenPosition(context.Background(), "BTCUSDT_UMCBL", "long", 0, 0)
	require.ErrorAs(t, err, &vErr)

	_, err = client.OpenPosition(context.Background(), "BTCUSDT_UMCBL", "sideways", 1, 0)
	require.ErrorAs(t, err, &vErr)
}

func TestErrorTaxonomy(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/market/ticker"] = `{"code":"40309","msg":"symbol has been removed","data":null}`
	venue.responses["/api/v2/mix/account/accounts"] = `{"code":"40001","msg":"accesskey invalid","data":null}`
	client, _ := newTestClient(t, venue)

	// 业务错误码 -> ExchangeError，携带原始 code
	var exErr *ExchangeError
	_, err := client.GetPrice(context.Background(), "GONEUSDT_UMCBL")
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "40309", exErr.Code)

	// 凭证错误码 -> AuthError
	var authErr *AuthError
	_, err = client.GetBalance(context.Background(), "USDT")
	require.ErrorAs(t, err, &authErr)
}

func TestNetworkError(t *testing.T) {
	venue := newMockVenue()
	client, srv := newTestClient(t, venue)
	srv.Close()

	var netErr *NetworkError
	_, err := client.GetBalance(context.Background(), "USDT")
	require.ErrorAs(t, err, &netErr)
}

func TestValidateCredentials(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/account/accounts"] = `{"code":"00000","msg":"success","data":[{"marginCoin":"USDT","available":"1"}]}`
	client, srv := newTestClient(t, venue)

	assert.True(t, client.ValidateCredentials(context.Background()))

	// 任何失败都只返回 false
	srv.Close()
	assert.False(t, client.ValidateCredentials(context.Background()))
}

func TestGetPrice(t *testing.T) {
	venue := newMockVenue()
	venue.responses["/api/v2/mix/market/ticker"] = `{"code":"00000","msg":"success","data":[{"lastPr":"42000.5"}]}`
	client, _ := newTestClient(t, venue)

	price, err := client.GetPrice(context.Background(), "BTCUSDT_UMCBL")
	require.NoError(t, err)
	assert.InDelta(t, 42000.5, price, 1e-9)
}

func TestFactoryUnsupportedExchange(t *testing.T) {
	f := NewFactory(testExchangeConfig())

	gw, err := f.New("bitget", testCreds)
	require.NoError(t, err)
	assert.NotNil(t, gw)

	var unsupported *ErrUnsupportedExchange
	_, err = f.New("binance", testCreds)
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "binance", unsupported.Exchange)
}
