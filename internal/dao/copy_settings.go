package dao

import (
	"sync"

	"gorm.io/gorm"

	"github.com/utrading/utrading-copy-engine/internal/models"
	"github.com/utrading/utrading-copy-engine/pkg/logger"
)

// Binding 一条生效的跟单配置及其钱包
// 由持久层组装成显式结构体，引擎不解析关联查询结果
type Binding struct {
	Settings *models.CopySettings
	Wallet   *models.FollowerWallet
}

type CopySettingsDAO struct {
	db *gorm.DB
}

var (
	_copySettings     *CopySettingsDAO
	_copySettingsOnce sync.Once
)

// InitCopySettingsDAO 初始化 CopySettingsDAO
func InitCopySettingsDAO(db *gorm.DB) {
	_copySettingsOnce.Do(func() {
		_copySettings = &CopySettingsDAO{
			db: db,
		}
	})
}

// CopySettings 获取 CopySettingsDAO 单例
func CopySettings() *CopySettingsDAO {
	return _copySettings
}

// ListActiveByProvider 加载某提供者的全部生效跟单配置及钱包
func (d *CopySettingsDAO) ListActiveByProvider(providerID uint) ([]*Binding, error) {
	var settings []*models.CopySettings
	err := d.db.Where("provider_id = ? AND is_active = ?", providerID, true).
		Find(&settings).Error
	if err != nil {
		return nil, err
	}
	if len(settings) == 0 {
		return nil, nil
	}

	walletIDs := make([]uint, 0, len(settings))
	for _, s := range settings {
		walletIDs = append(walletIDs, s.WalletID)
	}

	var wallets []*models.FollowerWallet
	if err = d.db.Where("id IN ?", walletIDs).Find(&wallets).Error; err != nil {
		return nil, err
	}

	walletByID := make(map[uint]*models.FollowerWallet, len(wallets))
	for _, w := range wallets {
		walletByID[w.ID] = w
	}

	bindings := make([]*Binding, 0, len(settings))
	for _, s := range settings {
		w, ok := walletByID[s.WalletID]
		if !ok {
			// 钱包已删除但配置仍启用，跳过
			logger.Warn().
				Uint("settings_id", s.ID).
				Uint("wallet_id", s.WalletID).
				Msg("copy settings references missing wallet, skipped")
			continue
		}
		bindings = append(bindings, &Binding{Settings: s, Wallet: w})
	}

	return bindings, nil
}

// GetByID 获取跟单配置
func (d *CopySettingsDAO) GetByID(id uint) (*models.CopySettings, error) {
	var s models.CopySettings
	if err := d.db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
