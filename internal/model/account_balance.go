package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance 用户 LadoCoin 余额汇总
// 与 ledger_entry 在同一事务内更新，AvailableBalance 恒等于未过期入账条目的 RemainingAmount 之和
type AccountBalance struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	AvailableBalance    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"available_balance"`
	ExpiringSoonBalance decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"expiring_soon_balance"` // 7天内过期
	TotalEarned         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_earned"`
	TotalSpent          decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_spent"`
	TotalBurned         decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_burned"` // 消费销毁 + 过期
	TotalReceived       decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_received"`
	LastUpdated         time.Time       `gorm:"not null" json:"last_updated"`
	Version             int             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (AccountBalance) TableName() string {
	return "account_balance"
}

// Drift 返回 TotalEarned - TotalSpent - TotalBurned - AvailableBalance，正常应为 0
func (b *AccountBalance) Drift() decimal.Decimal {
	return b.TotalEarned.Sub(b.TotalSpent).Sub(b.TotalBurned).Sub(b.AvailableBalance)
}
