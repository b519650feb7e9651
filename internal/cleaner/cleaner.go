package cleaner

import (
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-engine/internal/dao"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// 终态拦截/失败记录的保留期
// open/closed 记录携带资金结果，永久保留
const terminalRetention = 30 * 24 * time.Hour

// Cleaner 数据清理器，定时清理历史数据
type Cleaner struct {
	db       *gorm.DB
	interval time.Duration // 清理间隔
	done     chan struct{} // 停止信号
}

// NewCleaner 创建清理器
func NewCleaner(db *gorm.DB) *Cleaner {
	return &Cleaner{
		db:       db,
		interval: 1 * time.Hour, // 固定 1 小时
		done:     make(chan struct{}),
	}
}

// Start 启动清理任务
func (c *Cleaner) Start() {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		logger.Info().Msg("cleaner started")

		// 启动时立即执行一次
		c.clean()

		for {
			select {
			case <-ticker.C:
				c.clean()
			case <-c.done:
				logger.Info().Msg("cleaner stopped")
				return
			}
		}
	}()
}

// Stop 停止清理器
func (c *Cleaner) Stop() {
	close(c.done)
}

// clean 执行清理任务
func (c *Cleaner) clean() {
	logger.Debug().Msg("running cleanup task")

	if err := c.cleanTerminalExecutions(); err != nil {
		logger.Error().Err(err).Msg("clean terminal executions failed")
	}
}

// cleanTerminalExecutions 清理保留期外的 blocked/failed 台账记录
func (c *Cleaner) cleanTerminalExecutions() error {
	cutoff := time.Now().Add(-terminalRetention)
	deleted, err := dao.CopyExecution().DeleteTerminalBefore(cutoff)
	if err != nil {
		return err
	}

	if deleted > 0 {
		logger.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("cleaned old terminal executions")
	}

	return nil
}
