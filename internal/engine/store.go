package engine

import (
	"time"

	"github.com/utrading/utrading-copy-engine/internal/dao"
	"github.com/utrading/utrading-copy-engine/internal/models"
)

// Store 编排器的持久层端口，测试时可替换
type Store interface {
	// ListActiveBindings 加载某提供者的全部生效跟单配置及钱包
	ListActiveBindings(providerID uint) ([]*dao.Binding, error)
	// HasOpenAttempt 该 (trade, settings) 是否已有开仓尝试记录
	HasOpenAttempt(tradeID, settingsID uint) (bool, error)
	// CreatePending 写入 pending 台账记录，唯一键冲突返回 dao.ErrDuplicateExecution
	CreatePending(exec *models.CopyExecution) error
	MarkOpened(id uint, orderID string, size, entryPrice float64) error
	MarkBlocked(id uint, reason string) error
	MarkFailed(id uint, msg string) error
	// ListOpenExecutions 加载某持仓下全部未平仓的跟单记录
	ListOpenExecutions(tradeID uint) ([]*models.CopyExecution, error)
	MarkClosed(id uint, exitPrice, realizedPnl float64) error
	AppendCloseError(id uint, msg string) error
	WalletByID(id uint) (*models.FollowerWallet, error)
	DeactivateWallet(id uint) error
	// SumRealizedPnlSince 供日亏损熔断读取
	SumRealizedPnlSince(settingsID uint, since time.Time) (float64, error)
}

// daoStore 基于 DAO 单例的 Store 实现
type daoStore struct{}

// NewStore 创建持久层端口，要求 dao.InitDAO 已完成
func NewStore() Store {
	return &daoStore{}
}

func (s *daoStore) ListActiveBindings(providerID uint) ([]*dao.Binding, error) {
	return dao.CopySettings().ListActiveByProvider(providerID)
}

func (s *daoStore) HasOpenAttempt(tradeID, settingsID uint) (bool, error) {
	return dao.CopyExecution().HasOpenAttempt(tradeID, settingsID)
}

func (s *daoStore) CreatePending(exec *models.CopyExecution) error {
	return dao.CopyExecution().Create(exec)
}

func (s *daoStore) MarkOpened(id uint, orderID string, size, entryPrice float64) error {
	return dao.CopyExecution().MarkOpened(id, orderID, size, entryPrice)
}

func (s *daoStore) MarkBlocked(id uint, reason string) error {
	return dao.CopyExecution().MarkBlocked(id, reason)
}

func (s *daoStore) MarkFailed(id uint, msg string) error {
	return dao.CopyExecution().MarkFailed(id, msg)
}

func (s *daoStore) ListOpenExecutions(tradeID uint) ([]*models.CopyExecution, error) {
	return dao.CopyExecution().ListOpenByTrade(tradeID)
}

func (s *daoStore) MarkClosed(id uint, exitPrice, realizedPnl float64) error {
	return dao.CopyExecution().MarkClosed(id, exitPrice, realizedPnl)
}

func (s *daoStore) AppendCloseError(id uint, msg string) error {
	return dao.CopyExecution().AppendCloseError(id, msg)
}

func (s *daoStore) WalletByID(id uint) (*models.FollowerWallet, error) {
	return dao.FollowerWallet().GetByID(id)
}

func (s *daoStore) DeactivateWallet(id uint) error {
	return dao.FollowerWallet().SetActive(id, false)
}

func (s *daoStore) SumRealizedPnlSince(settingsID uint, since time.Time) (float64, error) {
	return dao.CopyExecution().SumRealizedPnlSince(settingsID, since)
}
