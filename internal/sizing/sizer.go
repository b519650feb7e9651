package sizing

import (
	"math"

	"github.com/utrading/utrading-copy-engine/internal/models"
)

// TradeInput 计算仓位所需的提供者持仓信息
type TradeInput struct {
	Direction  string
	EntryPrice float64
	Quantity   float64
}

// Size 按跟单模式计算下单数量（基础币）
// 纯函数，无 I/O；非法输入（零价格、零余额、NaN）一律返回 0，
// 调用方把 0 视为"无可执行"而非错误
func Size(settings *models.CopySettings, trade TradeInput, availableBalance float64) float64 {
	if !isFinitePositive(trade.EntryPrice) {
		return 0
	}

	var size float64
	switch settings.CopyMode {
	case models.CopyModeProportional:
		// SizeValue 为倍数，1.0 完全镜像，0.5 减半
		size = trade.Quantity * settings.SizeValue

	case models.CopyModeFixedPercent:
		// SizeValue 为跟单者自身余额的百分比，与提供者数量无关
		if availableBalance <= 0 {
			return 0
		}
		size = (settings.SizeValue / 100 * availableBalance) / trade.EntryPrice

	case models.CopyModeFixedSize:
		// SizeValue 为固定 USDT 金额
		size = settings.SizeValue / trade.EntryPrice

	default:
		return 0
	}

	// 所有模式都按最大名义价值截断；上限为 0 即不允许任何仓位
	size = math.Min(size, settings.MaxPositionUSD/trade.EntryPrice)

	if !isFinitePositive(size) {
		return 0
	}
	return size
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
