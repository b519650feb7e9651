package dao

import (
	"sync"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-engine/internal/models"
)

type FollowerWalletDAO struct {
	db *gorm.DB
}

var (
	_followerWallet     *FollowerWalletDAO
	_followerWalletOnce sync.Once
)

// InitFollowerWalletDAO 初始化 FollowerWalletDAO
func InitFollowerWalletDAO(db *gorm.DB) {
	_followerWalletOnce.Do(func() {
		_followerWallet = &FollowerWalletDAO{
			db: db,
		}
	})
}

// FollowerWallet 获取 FollowerWalletDAO 单例
func FollowerWallet() *FollowerWalletDAO {
	return _followerWallet
}

// GetByID 获取钱包
func (d *FollowerWalletDAO) GetByID(id uint) (*models.FollowerWallet, error) {
	var w models.FollowerWallet
	if err := d.db.First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// SetActive 启用/停用钱包
// 凭证失效（AuthError）时由上层调用停用，等待用户重新绑定
func (d *FollowerWalletDAO) SetActive(id uint, active bool) error {
	return d.db.Model(&models.FollowerWallet{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}
