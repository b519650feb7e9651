package models

import "time"

// CopyExecution 动作
const (
	ExecActionOpen  = "open"
	ExecActionClose = "close"
)

// CopyExecution 状态机: pending → {open|blocked|failed}; open → closed
// blocked/failed 为终态，后续事件不会重试
const (
	ExecStatusPending = "pending"
	ExecStatusOpen    = "open" // 执行成功且仓位未平
	ExecStatusBlocked = "blocked"
	ExecStatusFailed  = "failed"
	ExecStatusClosed  = "closed"
)

// CopyExecution 单次跟单执行的台账记录
// (provider_trade_id, copy_settings_id, action) 唯一，兜底防止重复派发
type CopyExecution struct {
	ID             uint `gorm:"primaryKey;autoIncrement" json:"id"`
	ProviderTradeID uint `gorm:"not null;uniqueIndex:uidx_trade_settings_action;index:idx_trade;comment:提供者持仓ID" json:"provider_trade_id"`
	CopySettingsID uint `gorm:"not null;uniqueIndex:uidx_trade_settings_action;index:idx_settings;comment:跟单配置ID" json:"copy_settings_id"`
	WalletID       uint `gorm:"not null;index:idx_wallet;comment:跟单钱包ID" json:"wallet_id"`

	// 执行信息
	OrderID    string  `gorm:"type:varchar(64);default:'';comment:交易所订单ID" json:"order_id"`
	Pair       string  `gorm:"type:varchar(24);not null;comment:交易对" json:"pair"`
	Direction  string  `gorm:"type:varchar(8);not null;comment:方向 long/short" json:"direction"`
	Action     string  `gorm:"type:varchar(8);not null;default:'open';uniqueIndex:uidx_trade_settings_action;comment:动作 open/close" json:"action"`
	Size       float64 `gorm:"type:decimal(18,8);not null;default:0;comment:成交数量(基础币)" json:"size"`
	EntryPrice float64 `gorm:"type:decimal(28,12);not null;default:0;comment:开仓执行价" json:"entry_price"`
	ExitPrice  float64 `gorm:"type:decimal(28,12);not null;default:0;comment:平仓执行价" json:"exit_price"`
	Leverage   int     `gorm:"not null;default:1;comment:杠杆倍数" json:"leverage"`

	// 结果
	Status       string  `gorm:"type:varchar(12);not null;default:'pending';index;comment:状态 pending/open/blocked/failed/closed" json:"status"`
	BlockReason  string  `gorm:"type:varchar(64);default:'';comment:风控拦截原因" json:"block_reason"`
	ErrorMessage string  `gorm:"type:varchar(512);default:'';comment:失败原因" json:"error_message"`
	RealizedPnl  float64 `gorm:"type:decimal(18,8);not null;default:0;comment:已实现盈亏(USDT) 平仓时写入" json:"realized_pnl"`

	// 时间字段
	ExecutedAt time.Time  `gorm:"autoCreateTime;index:idx_executed;comment:执行时间" json:"executed_at"`
	ClosedAt   *time.Time `gorm:"comment:平仓时间" json:"closed_at,omitempty"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CopyExecution) TableName() string {
	return "copy_executions"
}
