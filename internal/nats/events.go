package nats

import (
	"encoding/json"

	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// 信号提供者持仓生命周期事件主题
// 开仓和平仓共用一个主题，单订阅串行消费保证同一持仓的事件顺序
const TopicTradeLifecycle = "copy_trade_lifecycle"

// 跟单执行结果主题，通知侧消费
const TopicExecutionResult = "copy_execution_result"

// 生命周期事件动作
const (
	EventTradeOpened = "opened"
	EventTradeClosed = "closed"
)

// TradeLifecycleEvent 持仓生命周期事件
// 只携带持仓 ID，完整持仓以数据库为准，消费时回读
type TradeLifecycleEvent struct {
	Action    string `json:"action"`   // opened/closed
	TradeID   uint   `json:"trade_id"` // copy_provider_trades.id
	Timestamp int64  `json:"timestamp"`
}

// Marshal 序列化事件
func (e *TradeLifecycleEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Error().Err(err).Msg("marshal trade event failed")
		return nil, err
	}
	return data, nil
}

// ExecutionResult 单个跟单者的执行结果消息
type ExecutionResult struct {
	ExecutionID uint    `json:"execution_id,omitempty"`
	TradeID     uint    `json:"trade_id"`
	SettingsID  uint    `json:"settings_id"`
	WalletID    uint    `json:"wallet_id"`
	Action      string  `json:"action"`           // open/close
	Status      string  `json:"status"`           // open/blocked/failed/closed/skipped
	Reason      string  `json:"reason,omitempty"` // 拦截或失败原因
	Pair        string  `json:"pair"`
	Direction   string  `json:"direction"`
	OrderID     string  `json:"order_id,omitempty"`
	Size        float64 `json:"size,omitempty"`
	Price       float64 `json:"price,omitempty"`
	RealizedPnl float64 `json:"realized_pnl,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// Marshal 序列化结果
func (r *ExecutionResult) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Error().Err(err).Msg("marshal execution result failed")
		return nil, err
	}
	return data, nil
}
