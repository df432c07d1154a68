package model

import (
	"time"
)

// ActivityEvent 每日行为事件
type ActivityEvent string

const (
	EventLogin   ActivityEvent = "Login"
	EventLike    ActivityEvent = "Like"
	EventComment ActivityEvent = "Comment"
	EventContent ActivityEvent = "Content"
)

func (e ActivityEvent) Valid() bool {
	switch e {
	case EventLogin, EventLike, EventComment, EventContent:
		return true
	}
	return false
}

// ActivityStreak 用户每日行为计数与连续登录
// 当日计数在 ResetDate（本地日期 YYYY-MM-DD）之后的第一次事件时懒重置
type ActivityStreak struct {
	UserID             int64      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	CurrentStreak      int        `gorm:"not null;default:0" json:"current_streak"`
	MaxStreak          int        `gorm:"not null;default:0" json:"max_streak"`
	LastPremiatedLogin *time.Time `json:"last_premiated_login,omitempty"`
	LoginsToday        int        `gorm:"not null;default:0" json:"logins_today"`
	LikesToday         int        `gorm:"not null;default:0" json:"likes_today"`
	CommentsToday      int        `gorm:"not null;default:0" json:"comments_today"`
	ContentToday       int        `gorm:"not null;default:0" json:"content_today"`
	LoginBonusToday    bool       `gorm:"not null;default:false" json:"login_bonus_today"`
	LikesBonusToday    bool       `gorm:"not null;default:false" json:"likes_bonus_today"`
	CommentsBonusToday bool       `gorm:"not null;default:false" json:"comments_bonus_today"`
	ContentBonusToday  bool       `gorm:"not null;default:false" json:"content_bonus_today"`
	ResetDate          string     `gorm:"type:varchar(10);not null" json:"reset_date"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ActivityStreak) TableName() string {
	return "activity_streak"
}

// ResetIfNewDay 进入新的一天时清空当日计数和标记
func (s *ActivityStreak) ResetIfNewDay(today string) bool {
	if s.ResetDate == today {
		return false
	}
	s.LoginsToday, s.LikesToday, s.CommentsToday, s.ContentToday = 0, 0, 0, 0
	s.LoginBonusToday, s.LikesBonusToday, s.CommentsBonusToday, s.ContentBonusToday = false, false, false, false
	s.ResetDate = today
	return true
}

// Count 递增并返回当日计数
func (s *ActivityStreak) Count(e ActivityEvent) int {
	switch e {
	case EventLogin:
		s.LoginsToday++
		return s.LoginsToday
	case EventLike:
		s.LikesToday++
		return s.LikesToday
	case EventComment:
		s.CommentsToday++
		return s.CommentsToday
	case EventContent:
		s.ContentToday++
		return s.ContentToday
	}
	return 0
}

// BonusDelivered 当日该事件的奖励是否已发放
func (s *ActivityStreak) BonusDelivered(e ActivityEvent) bool {
	switch e {
	case EventLogin:
		return s.LoginBonusToday
	case EventLike:
		return s.LikesBonusToday
	case EventComment:
		return s.CommentsBonusToday
	case EventContent:
		return s.ContentBonusToday
	}
	return false
}

// BonusColumn 当日奖励标记对应的列名
func BonusColumn(e ActivityEvent) string {
	switch e {
	case EventLogin:
		return "login_bonus_today"
	case EventLike:
		return "likes_bonus_today"
	case EventComment:
		return "comments_bonus_today"
	case EventContent:
		return "content_bonus_today"
	}
	return ""
}
