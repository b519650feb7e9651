package nats

import (
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-copy-engine/internal/monitor"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// Publisher NATS 发布器
type Publisher struct {
	*nats.Conn
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		Conn: conn,
	}

	// 更新指标
	monitor.GetMetrics().SetNATSConnected(true)

	return p, nil
}

// PublishExecutionResult 发布跟单执行结果
func (p *Publisher) PublishExecutionResult(result *ExecutionResult) error {
	data, err := result.Marshal()
	if err != nil {
		monitor.GetMetrics().IncPublishErrors()
		return err
	}

	if err = p.Publish(TopicExecutionResult, data); err != nil {
		logger.Error().Err(err).
			Uint("trade_id", result.TradeID).
			Uint("settings_id", result.SettingsID).
			Msg("publish execution result failed")
		monitor.GetMetrics().IncPublishErrors()
		return err
	}

	monitor.GetMetrics().IncResultsPublished()
	return nil
}

// PublishTradeLifecycle 发布持仓生命周期事件，行情同步侧使用
func (p *Publisher) PublishTradeLifecycle(event *TradeLifecycleEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}
	return p.Publish(TopicTradeLifecycle, data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && !p.Conn.IsClosed()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	// 更新指标
	monitor.GetMetrics().SetNATSConnected(false)

	if p.Conn != nil {
		p.Conn.Close()
	}
	return nil
}
