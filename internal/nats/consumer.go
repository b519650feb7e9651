package nats

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-copy-engine/internal/models"
	"github.com/utrading/utrading-copy-engine/internal/monitor"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// TradeHandler 生命周期事件处理接口，由执行编排器实现
type TradeHandler interface {
	OnTradeOpened(ctx context.Context, trade *models.ProviderTrade)
	OnTradeClosed(ctx context.Context, trade *models.ProviderTrade)
}

// TradeSource 持仓回读接口
// 事件只带 ID，消费时从数据库取最新快照
type TradeSource interface {
	GetByID(id uint) (*models.ProviderTrade, error)
}

// Consumer 生命周期事件消费者
// 单订阅串行回调：同一持仓的 opened 先于 closed 处理
type Consumer struct {
	conn    *nats.Conn
	handler TradeHandler
	source  TradeSource
	sub     *nats.Subscription
	mu      sync.RWMutex
}

// NewConsumer 创建事件消费者
func NewConsumer(url string, handler TradeHandler, source TradeSource) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Warn().Msg("nats consumer reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		conn:    conn,
		handler: handler,
		source:  source,
	}, nil
}

// Start 订阅生命周期主题
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.conn.Subscribe(TopicTradeLifecycle, func(msg *nats.Msg) {
		c.handleMessage(ctx, msg)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	logger.Info().Str("topic", TopicTradeLifecycle).Msg("trade lifecycle consumer started")
	return nil
}

// handleMessage 解析并派发单条事件
// 无法解析或持仓不存在的事件丢弃并记日志，不中断订阅
func (c *Consumer) handleMessage(ctx context.Context, msg *nats.Msg) {
	var event TradeLifecycleEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		logger.Error().Err(err).Str("data", string(msg.Data)).Msg("unmarshal trade event failed")
		return
	}

	trade, err := c.source.GetByID(event.TradeID)
	if err != nil {
		logger.Error().Err(err).
			Uint("trade_id", event.TradeID).
			Str("action", event.Action).
			Msg("load provider trade failed")
		return
	}

	monitor.IncEventConsumed(event.Action)

	switch event.Action {
	case EventTradeOpened:
		c.handler.OnTradeOpened(ctx, trade)
	case EventTradeClosed:
		c.handler.OnTradeClosed(ctx, trade)
	default:
		logger.Warn().
			Str("action", event.Action).
			Uint("trade_id", event.TradeID).
			Msg("unknown trade event action, dropped")
	}
}

// IsSubscribed 检查订阅是否有效
func (c *Consumer) IsSubscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub != nil && c.sub.IsValid() && c.conn != nil && !c.conn.IsClosed()
}

// Stop 退订并断开连接
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		// Drain 处理完在途消息后退订
		if err := c.sub.Drain(); err != nil {
			logger.Error().Err(err).Msg("drain subscription failed")
		}
		c.sub = nil
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
