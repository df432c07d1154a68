package model

import (
	"time"
)

// 奖励幂等类型
const (
	AwardWelcome         = "WELCOME"
	AwardReferrer        = "REFERRER"
	AwardReferred        = "REFERRED"
	AwardReferredCreator = "REFERRED_CREATOR"
	AwardDailyLogin      = "DAILY_LOGIN"
	AwardDailyLikes      = "DAILY_LIKES"
	AwardDailyComments   = "DAILY_COMMENTS"
	AwardDailyContent    = "DAILY_CONTENT"
	AwardWeeklyStreak    = "WEEKLY_STREAK"
	AwardScopeGlobal     = "-"
)

// AwardKey 一次性奖励的幂等键
type AwardKey struct {
	BonusType string
	Scope     string // 一次性奖励用 AwardScopeGlobal，推荐奖励用推荐关系ID，每日奖励用本地日期
}

// BonusAward 奖励幂等表，(user_id, bonus_type, scope) 唯一
// 与入账条目在同一事务内写入
type BonusAward struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_award_key,priority:1;not null" json:"user_id"`
	BonusType string    `gorm:"type:varchar(32);uniqueIndex:idx_award_key,priority:2;not null" json:"bonus_type"`
	Scope     string    `gorm:"type:varchar(64);uniqueIndex:idx_award_key,priority:3;not null" json:"scope"`
	EntryID   int64     `gorm:"not null" json:"entry_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (BonusAward) TableName() string {
	return "bonus_award"
}
