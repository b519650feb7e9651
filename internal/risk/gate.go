package risk

import (
	"fmt"
	"slices"
	"time"

	"github.com/utrading/utrading-copy-engine/internal/models"
)

// 拦截原因
const (
	ReasonSettingsInactive = "settings inactive"
	ReasonPairNotAllowed   = "pair not allowed"
	ReasonDailyLossLimit   = "daily loss limit reached"
)

// Ledger 台账读取端口，日亏损熔断唯一的 I/O 依赖
type Ledger interface {
	SumRealizedPnlSince(settingsID uint, since time.Time) (float64, error)
}

// Decision 风控判定结果
// 拦截不是错误：产出 blocked 台账记录而非 failed
type Decision struct {
	Approved bool
	Reason   string
}

func approve() Decision {
	return Decision{Approved: true}
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Gate 每个跟单者执行前的风控闸门
type Gate struct {
	ledger Ledger
	// now 可注入，测试用
	now func() time.Time
}

// NewGate 创建风控闸门
func NewGate(ledger Ledger) *Gate {
	return &Gate{
		ledger: ledger,
		now:    time.Now,
	}
}

// Evaluate 评估某配置能否跟随该持仓
// 日亏损读数在执行前即时发生，不缓存，避免并发扇出下读到过期额度
func (g *Gate) Evaluate(settings *models.CopySettings, pair string) (Decision, error) {
	if !settings.IsActive {
		return reject(ReasonSettingsInactive), nil
	}

	// 白名单非空时必须命中
	if len(settings.AllowedPairs) > 0 && !slices.Contains(settings.AllowedPairs, pair) {
		return reject(ReasonPairNotAllowed), nil
	}

	// 额度为 0 表示当日出现任何已实现亏损即停
	pnl, err := g.ledger.SumRealizedPnlSince(settings.ID, g.utcDayStart())
	if err != nil {
		return Decision{}, fmt.Errorf("read daily pnl: %w", err)
	}
	if pnl < -settings.MaxDailyLossUSD {
		return reject(ReasonDailyLossLimit), nil
	}

	return approve(), nil
}

// utcDayStart 当前 UTC 日历日零点
func (g *Gate) utcDayStart() time.Time {
	now := g.now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
