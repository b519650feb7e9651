package dao

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-engine/internal/models"
)

// ErrDuplicateExecution 同一 (trade, settings, action) 已有台账记录
var ErrDuplicateExecution = errors.New("duplicate copy execution")

// ErrExecutionNotOpen 台账记录不存在或已不是 open 状态
var ErrExecutionNotOpen = errors.New("copy execution not in open status")

// ErrExecutionNotPending 台账记录不存在或已离开 pending 状态
var ErrExecutionNotPending = errors.New("copy execution not in pending status")

type CopyExecutionDAO struct {
	db *gorm.DB
}

var (
	_copyExecution     *CopyExecutionDAO
	_copyExecutionOnce sync.Once
)

// InitCopyExecutionDAO 初始化 CopyExecutionDAO
func InitCopyExecutionDAO(db *gorm.DB) {
	_copyExecutionOnce.Do(func() {
		_copyExecution = &CopyExecutionDAO{
			db: db,
		}
	})
}

// CopyExecution 获取 CopyExecutionDAO 单例
func CopyExecution() *CopyExecutionDAO {
	return _copyExecution
}

// Create 写入台账记录
// 唯一索引 uidx_trade_settings_action 兜底防止同事件重复派发
func (d *CopyExecutionDAO) Create(exec *models.CopyExecution) error {
	err := d.db.Create(exec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateExecution
	}
	return err
}

// HasOpenAttempt 检查该 (trade, settings) 是否已有开仓尝试记录
// 派发前置检查，唯一索引是兜底
func (d *CopyExecutionDAO) HasOpenAttempt(tradeID, settingsID uint) (bool, error) {
	var count int64
	err := d.db.Model(&models.CopyExecution{}).
		Where("provider_trade_id = ? AND copy_settings_id = ? AND action = ?",
			tradeID, settingsID, models.ExecActionOpen).
		Count(&count).Error
	return count > 0, err
}

// SumRealizedPnlSince 统计某配置自指定时刻以来的已实现盈亏
// 日亏损熔断在执行前即时读取，不做缓存
func (d *CopyExecutionDAO) SumRealizedPnlSince(settingsID uint, since time.Time) (float64, error) {
	var sum float64
	err := d.db.Model(&models.CopyExecution{}).
		Select("COALESCE(SUM(realized_pnl), 0)").
		Where("copy_settings_id = ? AND executed_at >= ?", settingsID, since).
		Scan(&sum).Error
	return sum, err
}

// MarkOpened 将 pending 记录转为 open 并写入成交结果
func (d *CopyExecutionDAO) MarkOpened(id uint, orderID string, size, entryPrice float64) error {
	return d.transitionFromPending(id, map[string]any{
		"status":      models.ExecStatusOpen,
		"order_id":    orderID,
		"size":        size,
		"entry_price": entryPrice,
	})
}

// MarkBlocked 将 pending 记录转为 blocked 终态并写入拦截原因
func (d *CopyExecutionDAO) MarkBlocked(id uint, reason string) error {
	return d.transitionFromPending(id, map[string]any{
		"status":       models.ExecStatusBlocked,
		"block_reason": reason,
	})
}

// MarkFailed 将 pending 记录转为 failed 终态并写入失败原因
func (d *CopyExecutionDAO) MarkFailed(id uint, msg string) error {
	return d.transitionFromPending(id, map[string]any{
		"status":        models.ExecStatusFailed,
		"error_message": msg,
	})
}

// transitionFromPending pending 之外的状态不受影响
func (d *CopyExecutionDAO) transitionFromPending(id uint, updates map[string]any) error {
	result := d.db.Model(&models.CopyExecution{}).
		Where("id = ? AND status = ?", id, models.ExecStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrExecutionNotPending
	}
	return nil
}

// ListOpenByTrade 加载某提供者持仓下全部未平仓的跟单记录
func (d *CopyExecutionDAO) ListOpenByTrade(tradeID uint) ([]*models.CopyExecution, error) {
	var execs []*models.CopyExecution
	err := d.db.Where("provider_trade_id = ? AND action = ? AND status = ?",
		tradeID, models.ExecActionOpen, models.ExecStatusOpen).
		Find(&execs).Error
	return execs, err
}

// MarkClosed 将 open 状态的记录转为 closed 并写入平仓结果
// closed 永不回退，非 open 记录不受影响
func (d *CopyExecutionDAO) MarkClosed(id uint, exitPrice, realizedPnl float64) error {
	now := time.Now()
	result := d.db.Model(&models.CopyExecution{}).
		Where("id = ? AND status = ?", id, models.ExecStatusOpen).
		Updates(map[string]any{
			"status":       models.ExecStatusClosed,
			"exit_price":   exitPrice,
			"realized_pnl": realizedPnl,
			"closed_at":    &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrExecutionNotOpen
	}
	return nil
}

// AppendCloseError 记录平仓失败原因，仓位保持 open 待人工介入
func (d *CopyExecutionDAO) AppendCloseError(id uint, msg string) error {
	return d.db.Model(&models.CopyExecution{}).
		Where("id = ?", id).
		Update("error_message", msg).Error
}

// DeleteTerminalBefore 删除指定时刻前的 blocked/failed 记录
// 这两类不携带资金结果，open/closed 台账永久保留
func (d *CopyExecutionDAO) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	result := d.db.Where("status IN ? AND executed_at < ?",
		[]string{models.ExecStatusBlocked, models.ExecStatusFailed}, cutoff).
		Delete(&models.CopyExecution{})
	return result.RowsAffected, result.Error
}

// ListBySettings 按配置查询台账（状态可选），供运营排查
func (d *CopyExecutionDAO) ListBySettings(settingsID uint, status string, limit int) ([]*models.CopyExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	q := d.db.Where("copy_settings_id = ?", settingsID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var execs []*models.CopyExecution
	err := q.Order("id DESC").Limit(limit).Find(&execs).Error
	return execs, err
}
