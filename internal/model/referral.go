package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralLink 推荐关系，一个被推荐人只能有一个推荐人
//
// CommissionActive 只能从 true 变为 false，返佣期结束后不会重新激活
// 三个 Delivered 标记是 bonus_award 的冗余镜像，真正的幂等由 bonus_award 唯一索引保证
type ReferralLink struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerID               int64           `gorm:"index;not null" json:"referrer_id"`
	ReferredUserID           int64           `gorm:"uniqueIndex;not null" json:"referred_user_id"`
	CodeUsed                 string          `gorm:"type:varchar(32);not null" json:"code_used"`
	RegistrationDate         time.Time       `gorm:"not null" json:"registration_date"`
	CommissionExpirationDate time.Time       `gorm:"index;not null" json:"commission_expiration_date"`
	TotalCommissionEarned    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_commission_earned"`
	ReferrerBonusDelivered   bool            `gorm:"not null;default:false" json:"referrer_bonus_delivered"`
	ReferredBonusDelivered   bool            `gorm:"not null;default:false" json:"referred_bonus_delivered"`
	CreatorBonusDelivered    bool            `gorm:"not null;default:false" json:"creator_bonus_delivered"`
	CommissionActive         bool            `gorm:"index;not null;default:true" json:"commission_active"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReferralLink) TableName() string {
	return "referral_link"
}

// CommissionOpen 在 now 时刻是否还能返佣
func (l *ReferralLink) CommissionOpen(now time.Time) bool {
	return l.CommissionActive && !now.After(l.CommissionExpirationDate)
}
