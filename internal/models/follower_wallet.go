package models

import (
	"time"

	"gorm.io/gorm"
)

// FollowerWallet 跟单者绑定的交易所账户
// 凭证字段均为密文，解密只发生在单次执行的作用域内
type FollowerWallet struct {
	ID     uint `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint `gorm:"not null;index:idx_user;comment:所属用户ID" json:"user_id"`

	Exchange               string `gorm:"type:varchar(16);not null;default:'bitget';comment:交易所标识" json:"exchange"`
	APIKeyEncrypted        string `gorm:"type:varchar(512);not null;comment:APIKey密文" json:"-"`
	APISecretEncrypted     string `gorm:"type:varchar(512);not null;comment:APISecret密文" json:"-"`
	APIPassphraseEncrypted string `gorm:"type:varchar(512);default:'';comment:Passphrase密文" json:"-"`

	IsActive bool `gorm:"type:tinyint(1);not null;default:1;comment:是否启用" json:"is_active"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (FollowerWallet) TableName() string {
	return "copy_follower_wallets"
}
