package dao

import (
	"sync"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-engine/internal/models"
)

type ProviderTradeDAO struct {
	db *gorm.DB
}

var (
	_providerTrade     *ProviderTradeDAO
	_providerTradeOnce sync.Once
)

// InitProviderTradeDAO 初始化 ProviderTradeDAO
func InitProviderTradeDAO(db *gorm.DB) {
	_providerTradeOnce.Do(func() {
		_providerTrade = &ProviderTradeDAO{
			db: db,
		}
	})
}

// ProviderTrade 获取 ProviderTradeDAO 单例
func ProviderTrade() *ProviderTradeDAO {
	return _providerTrade
}

// GetByID 获取提供者持仓（引擎只读，写入方为行情同步侧）
func (d *ProviderTradeDAO) GetByID(id uint) (*models.ProviderTrade, error) {
	var t models.ProviderTrade
	if err := d.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}
