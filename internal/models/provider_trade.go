package models

import "time"

// 交易方向
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// ProviderTrade 状态
const (
	TradeStatusOpen      = "open"
	TradeStatusClosed    = "closed"
	TradeStatusCancelled = "cancelled"
)

// ProviderTrade 信号提供者的持仓记录
// 由行情同步侧写入，跟单引擎只读
type ProviderTrade struct {
	ID         uint `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderID uint `gorm:"not null;index:idx_provider;comment:信号提供者ID" json:"provider_id"`

	// 交易信息
	Pair       string   `gorm:"type:varchar(24);not null;index;comment:交易对 如 BTC/USDT" json:"pair"`
	Direction  string   `gorm:"type:varchar(8);not null;comment:方向 long/short" json:"direction"`
	EntryPrice float64  `gorm:"type:decimal(28,12);not null;comment:开仓价格" json:"entry_price"`
	Quantity   float64  `gorm:"type:decimal(18,8);not null;comment:开仓数量" json:"quantity"`
	Leverage   int      `gorm:"not null;default:1;comment:杠杆倍数" json:"leverage"`
	StopLoss   *float64 `gorm:"type:decimal(28,12);comment:止损价" json:"stop_loss,omitempty"`
	TakeProfit *float64 `gorm:"type:decimal(28,12);comment:止盈价" json:"take_profit,omitempty"`

	// 生命周期
	Status      string     `gorm:"type:varchar(12);not null;default:'open';index;comment:状态 open/closed/cancelled" json:"status"`
	ExitPrice   float64    `gorm:"type:decimal(28,12);not null;default:0;comment:平仓价格" json:"exit_price"`
	RealizedPnl float64    `gorm:"type:decimal(18,8);not null;default:0;comment:已实现盈亏(USDT)" json:"realized_pnl"`
	ClosedAt    *time.Time `gorm:"comment:平仓时间" json:"closed_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProviderTrade) TableName() string {
	return "copy_provider_trades"
}
