package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

const (
	productTypeUSDT = "USDT-FUTURES"
	marginCoinUSDT  = "USDT"
	codeOK          = "00000"
)

// BitgetClient 账户作用域的 Bitget 合约客户端
type BitgetClient struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewBitgetClient 创建客户端
func NewBitgetClient(baseURL string, creds Credentials, timeout time.Duration, limiter *rate.Limiter) *BitgetClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BitgetClient{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// sign 计算签名: HMAC-SHA256(timestamp + METHOD + requestPath + body) 的 base64
func (c *BitgetClient) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.SecretKey))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// request 发起已签名请求并校验业务码
// 时间戳每次请求现生成，避免签名重放被拒
func (c *BitgetClient) request(ctx context.Context, method, requestPath string, body map[string]any) (gjson.Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, &NetworkError{Op: method + " " + requestPath, Err: err}
		}
	}

	var bodyStr string
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, &ValidationError{Msg: "marshal request body: " + err.Error()}
		}
		bodyStr = string(raw)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewBufferString(bodyStr))
	if err != nil {
		return gjson.Result{}, &NetworkError{Op: method + " " + requestPath, Err: err}
	}

	req.Header.Set("ACCESS-KEY", c.creds.APIKey)
	req.Header.Set("ACCESS-SIGN", c.sign(timestamp, method, requestPath, bodyStr))
	req.Header.Set("ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, &NetworkError{Op: method + " " + requestPath, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, &NetworkError{Op: method + " " + requestPath, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return gjson.Result{}, &AuthError{Msg: gjson.GetBytes(raw, "msg").String()}
	}

	code := gjson.GetBytes(raw, "code").String()
	if code != codeOK {
		msg := gjson.GetBytes(raw, "msg").String()
		if isAuthCode(code) {
			return gjson.Result{}, &AuthError{Msg: fmt.Sprintf("%s (code: %s)", msg, code)}
		}
		return gjson.Result{}, &ExchangeError{Code: code, Msg: msg}
	}

	return gjson.GetBytes(raw, "data"), nil
}

// isAuthCode 凭证类错误码（apikey/签名/passphrase 无效）
func isAuthCode(code string) bool {
	switch code {
	case "40001", "40002", "40003", "40005", "40006", "40009", "40011", "40012", "40037":
		return true
	}
	return false
}

// GetBalance 查询指定币种可用余额
func (c *BitgetClient) GetBalance(ctx context.Context, coin string) (float64, error) {
	path := "/api/v2/mix/account/accounts?productType=" + productTypeUSDT
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var available float64
	data.ForEach(func(_, account gjson.Result) bool {
		if account.Get("marginCoin").String() == coin {
			available = cast.ToFloat64(account.Get("available").String())
			return false
		}
		return true
	})

	return available, nil
}

// GetPrice 查询最新成交价
func (c *BitgetClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	path := "/api/v2/mix/market/ticker?symbol=" + symbol + "&productType=" + productTypeUSDT
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	price := data.Get("lastPr")
	if !price.Exists() {
		// v2 接口可能返回数组
		price = data.Get("0.lastPr")
	}

	return cast.ToFloat64(price.String()), nil
}

// setLeverage 设置杠杆
// 全仓账户需对多空两侧各设一次，这是交易所接口要求的双调用
func (c *BitgetClient) setLeverage(ctx context.Context, symbol string, leverage int) error {
	const path = "/api/v2/mix/account/set-leverage"
	for _, holdSide := range []string{"long", "short"} {
		_, err := c.request(ctx, http.MethodPost, path, map[string]any{
			"symbol":      symbol,
			"productType": productTypeUSDT,
			"marginCoin":  marginCoinUSDT,
			"leverage":    strconv.Itoa(leverage),
			"holdSide":    holdSide,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// OpenPosition 市价开仓
func (c *BitgetClient) OpenPosition(ctx context.Context, symbol, direction string, size float64, leverage int) (*OrderResult, error) {
	if size <= 0 {
		return nil, &ValidationError{Msg: "order size must be positive"}
	}

	var side string
	switch direction {
	case "long":
		side = "buy"
	case "short":
		side = "sell"
	default:
		return nil, &ValidationError{Msg: "unknown direction: " + direction}
	}

	if leverage > 0 {
		if err := c.setLeverage(ctx, symbol, leverage); err != nil {
			return nil, err
		}
	}

	clientOid := uuid.NewString()
	data, err := c.request(ctx, http.MethodPost, "/api/v2/mix/order/place-order", map[string]any{
		"symbol":      symbol,
		"productType": productTypeUSDT,
		"marginMode":  "crossed",
		"marginCoin":  marginCoinUSDT,
		"size":        formatSize(size),
		"side":        side,
		"tradeSide":   "open",
		"orderType":   "market",
		"clientOid":   clientOid,
	})
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("symbol", symbol).
		Str("side", side).
		Float64("size", size).
		Str("order_id", data.Get("orderId").String()).
		Msg("position opened")

	return &OrderResult{
		OrderID:       data.Get("orderId").String(),
		ClientOrderID: clientOid,
		Size:          size,
		Status:        "filled",
	}, nil
}

// ClosePosition 市价平仓
// 平多发卖单、平空发买单，这是硬性规则
func (c *BitgetClient) ClosePosition(ctx context.Context, symbol, direction string, size float64) (*OrderResult, error) {
	if size <= 0 {
		return nil, &ValidationError{Msg: "order size must be positive"}
	}

	var side string
	switch direction {
	case "long":
		side = "sell"
	case "short":
		side = "buy"
	default:
		return nil, &ValidationError{Msg: "unknown direction: " + direction}
	}

	clientOid := uuid.NewString()
	data, err := c.request(ctx, http.MethodPost, "/api/v2/mix/order/place-order", map[string]any{
		"symbol":      symbol,
		"productType": productTypeUSDT,
		"marginMode":  "crossed",
		"marginCoin":  marginCoinUSDT,
		"size":        formatSize(size),
		"side":        side,
		"tradeSide":   "close",
		"orderType":   "market",
		"clientOid":   clientOid,
	})
	if err != nil {
		return nil, err
	}

	return &OrderResult{
		OrderID:       data.Get("orderId").String(),
		ClientOrderID: clientOid,
		Size:          size,
		Status:        "filled",
	}, nil
}

// CancelOrder 撤单
func (c *BitgetClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.request(ctx, http.MethodPost, "/api/v2/mix/order/cancel-order", map[string]any{
		"symbol":      symbol,
		"productType": productTypeUSDT,
		"orderId":     orderID,
	})
	return err
}

// GetPositions 查询全部持仓
func (c *BitgetClient) GetPositions(ctx context.Context) ([]Position, error) {
	path := "/api/v2/mix/position/all-position?productType=" + productTypeUSDT
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var positions []Position
	data.ForEach(func(_, p gjson.Result) bool {
		positions = append(positions, Position{
			Symbol:        p.Get("symbol").String(),
			Side:          p.Get("holdSide").String(),
			Size:          cast.ToFloat64(p.Get("total").String()),
			EntryPrice:    cast.ToFloat64(p.Get("openPriceAvg").String()),
			Leverage:      cast.ToInt(p.Get("leverage").String()),
			UnrealizedPnl: cast.ToFloat64(p.Get("unrealizedPL").String()),
		})
		return true
	})

	return positions, nil
}

// ValidateCredentials 凭证探测，任何失败都返回 false
func (c *BitgetClient) ValidateCredentials(ctx context.Context) bool {
	_, err := c.GetBalance(ctx, marginCoinUSDT)
	return err == nil
}

// formatSize 数量保留 4 位小数（交易所精度要求）
func formatSize(size float64) string {
	return strconv.FormatFloat(size, 'f', 4, 64)
}
