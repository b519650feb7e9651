package exchange

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/utrading/utrading-copy-engine/config"
	"github.com/utrading/utrading-copy-engine/pkg/concurrent"
)

// Credentials 单个交易所账户的明文凭证
// 只在一次执行的作用域内存在，不落盘
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// OrderResult 下单结果
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Size          float64
	Price         float64
	Status        string
}

// Position 当前持仓
type Position struct {
	Symbol        string
	Side          string // long/short
	Size          float64
	EntryPrice    float64
	Leverage      int
	UnrealizedPnl float64
}

// Gateway 一个账户作用域的交易所客户端
// 网关自身不做去重，幂等由调用方（编排器）保证
type Gateway interface {
	// GetBalance 查询指定币种可用余额
	GetBalance(ctx context.Context, coin string) (float64, error)
	// GetPrice 查询最新成交价
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// OpenPosition 市价开仓，leverage>0 时先设置杠杆（多空两侧都设，交易所要求）
	OpenPosition(ctx context.Context, symbol, direction string, size float64, leverage int) (*OrderResult, error)
	// ClosePosition 市价平仓，平多发卖单、平空发买单
	ClosePosition(ctx context.Context, symbol, direction string, size float64) (*OrderResult, error)
	// CancelOrder 撤单
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// GetPositions 查询全部持仓
	GetPositions(ctx context.Context) ([]Position, error)
	// ValidateCredentials 凭证有效性探测，任何失败都返回 false，不抛错
	ValidateCredentials(ctx context.Context) bool
}

// Factory 按钱包凭证实例化 Gateway
type Factory interface {
	New(exchangeName string, creds Credentials) (Gateway, error)
}

// ErrUnsupportedExchange 不支持的交易所标识
type ErrUnsupportedExchange struct {
	Exchange string
}

func (e *ErrUnsupportedExchange) Error() string {
	return fmt.Sprintf("exchange %s not supported", e.Exchange)
}

type factory struct {
	cfg config.Exchange
	// 同一交易所的所有账户共享限速器，交易所按 IP 限流
	limiters concurrent.Map[string, *rate.Limiter]
}

// NewFactory 创建网关工厂
func NewFactory(cfg config.Exchange) Factory {
	return &factory{cfg: cfg}
}

func (f *factory) limiter(exchangeName string) *rate.Limiter {
	if l, ok := f.limiters.Load(exchangeName); ok {
		return l
	}
	l, _ := f.limiters.LoadOrStore(exchangeName,
		rate.NewLimiter(rate.Limit(f.cfg.RatePerSecond), f.cfg.RateBurst))
	return l
}

func (f *factory) New(exchangeName string, creds Credentials) (Gateway, error) {
	switch exchangeName {
	case "bitget":
		return NewBitgetClient(f.cfg.BitgetBaseURL, creds, f.cfg.RequestTimeout, f.limiter(exchangeName)), nil
	default:
		return nil, &ErrUnsupportedExchange{Exchange: exchangeName}
	}
}
