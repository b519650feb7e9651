package models

import "time"

// 跟单仓位计算模式
const (
	CopyModeProportional = "proportional" // 按提供者数量的倍数
	CopyModeFixedPercent = "fixed_percent" // 按跟单者余额的百分比
	CopyModeFixedSize    = "fixed_size"   // 固定 USDT 金额
)

// CopySettings 钱包与信号提供者之间的跟单配置
// 同一 (wallet, provider) 最多一条生效配置
type CopySettings struct {
	ID         uint `gorm:"primaryKey;autoIncrement" json:"id"`
	WalletID   uint `gorm:"not null;uniqueIndex:uidx_wallet_provider;comment:跟单钱包ID" json:"wallet_id"`
	ProviderID uint `gorm:"not null;uniqueIndex:uidx_wallet_provider;index:idx_settings_provider;comment:信号提供者ID" json:"provider_id"`

	// 仓位计算
	CopyMode       string  `gorm:"type:varchar(16);not null;default:'proportional';comment:模式 proportional/fixed_percent/fixed_size" json:"copy_mode"`
	SizeValue      float64 `gorm:"type:decimal(18,8);not null;default:1;comment:模式参数: 倍数/百分比/USDT金额" json:"size_value"`
	MaxPositionUSD float64 `gorm:"type:decimal(18,2);not null;default:1000;comment:单笔最大名义价值(USDT)" json:"max_position_usd"`

	// 风控
	MaxDailyLossUSD float64  `gorm:"type:decimal(18,2);not null;default:500;comment:当日最大已实现亏损(USDT)" json:"max_daily_loss_usd"`
	AllowedPairs    []string `gorm:"serializer:json;comment:交易对白名单 空=全部" json:"allowed_pairs"`

	CopyStopLoss   bool `gorm:"type:tinyint(1);not null;default:0;comment:是否跟随止损" json:"copy_stop_loss"`
	CopyTakeProfit bool `gorm:"type:tinyint(1);not null;default:0;comment:是否跟随止盈" json:"copy_take_profit"`
	IsActive       bool `gorm:"type:tinyint(1);not null;default:1;comment:是否启用" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CopySettings) TableName() string {
	return "copy_settings"
}
