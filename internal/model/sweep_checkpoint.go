package model

import (
	"time"
)

// SweepCheckpoint 过期任务断点
// Name 由用户ID分区区间生成，每个分区独立推进
type SweepCheckpoint struct {
	Name           string    `gorm:"type:varchar(64);primaryKey" json:"name"`
	LastExpiration time.Time `gorm:"not null" json:"last_expiration"`
	Processed      int64     `gorm:"not null;default:0" json:"processed"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SweepCheckpoint) TableName() string {
	return "sweep_checkpoint"
}

// AllModels 需要自动迁移的表
func AllModels() []interface{} {
	return []interface{}{
		&LedgerEntry{},
		&EntryConsumption{},
		&AccountBalance{},
		&ReferralLink{},
		&ActivityStreak{},
		&BonusAward{},
		&ConfigSetting{},
		&ConfigChange{},
		&OutboxMessage{},
		&SweepCheckpoint{},
	}
}
