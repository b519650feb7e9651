package dao

import "gorm.io/gorm"

// InitDAO 初始化所有 DAO（应用启动时调用）
func InitDAO(db *gorm.DB) {
	InitCopySettingsDAO(db)
	InitCopyExecutionDAO(db)
	InitFollowerWalletDAO(db)
	InitProviderTradeDAO(db)
}
