package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// ActivityResult 行为事件处理结果
type ActivityResult struct {
	Streak  *model.ActivityStreak `json:"streak"`
	Awarded []*model.LedgerEntry  `json:"awarded"`
}

// StreakService 每日行为奖励与连续登录
//
// 【规则】
//   - 当日计数在本地时区的新一天第一次事件时清零
//   - 计数达到阈值且当日未发放时发放对应奖励，每天每类最多一次
//   - 登录奖励发放时更新连续天数：上一次登录奖励在前一个本地自然日则 +1，否则重置为 1
//   - 连续天数为 7 的倍数时额外发放 RachaSemanal
type StreakService struct {
	*ledger
	streakRepo *repository.StreakRepository
	accrual    *AccrualService
	loc        *time.Location
}

func NewStreakService(l *ledger, streakRepo *repository.StreakRepository, accrual *AccrualService, loc *time.Location) *StreakService {
	if loc == nil {
		loc = time.UTC
	}
	return &StreakService{ledger: l, streakRepo: streakRepo, accrual: accrual, loc: loc}
}

type dailyBonus struct {
	kind      model.CreditKind
	awardType string
	threshold int
}

func (s *StreakService) bonusFor(event model.ActivityEvent) dailyBonus {
	a := s.cfg.Activity
	switch event {
	case model.EventLogin:
		return dailyBonus{model.KindLoginDiario, model.AwardDailyLogin, a.LoginThreshold}
	case model.EventLike:
		return dailyBonus{model.KindBonoLikes, model.AwardDailyLikes, a.LikesThreshold}
	case model.EventComment:
		return dailyBonus{model.KindBonoComentarios, model.AwardDailyComments, a.CommentThreshold}
	default:
		return dailyBonus{model.KindBonoContenido, model.AwardDailyContent, a.ContentThreshold}
	}
}

func (s *StreakService) localDate(t time.Time) string {
	return t.In(s.loc).Format(dateLayout)
}

// 上次有奖登录距今在 [24h, 48h] 内才算连续
const (
	streakMinGap = 24 * time.Hour
	streakMaxGap = 48 * time.Hour
)

func continuesStreak(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	gap := now.Sub(*last)
	return gap >= streakMinGap && gap <= streakMaxGap
}

// RecordDailyEvent 记录一次行为事件，达到阈值时发放当日奖励
func (s *StreakService) RecordDailyEvent(ctx context.Context, userID int64, event model.ActivityEvent) (*ActivityResult, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEvent, event)
	}

	now := s.clock()
	today := s.localDate(now)
	bonus := s.bonusFor(event)

	var (
		streak *model.ActivityStreak
		count  int
	)
	err := s.withUserLock(ctx, userID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			st, err := s.streakRepo.GetOrCreate(ctx, tx, userID, today)
			if err != nil {
				return err
			}
			st.ResetIfNewDay(today)
			count = st.Count(event)
			if err := s.streakRepo.Save(ctx, tx, st); err != nil {
				return err
			}
			streak = st
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("记录行为事件失败: %w", err)
	}

	result := &ActivityResult{Streak: streak}
	if count < bonus.threshold || streak.BonusDelivered(event) {
		return result, nil
	}

	entry, fresh, err := s.awardDaily(ctx, userID, event, bonus, today, now)
	if err != nil {
		if errors.Is(err, ErrDuplicateAward) || isCapError(err) {
			s.log.Info("[Streak] 当日奖励未发放",
				zap.Int64("userID", userID), zap.String("event", string(event)), zap.Error(err))
			return result, nil
		}
		return result, err
	}
	if fresh {
		result.Awarded = append(result.Awarded, entry)
	}

	if event == model.EventLogin && fresh {
		weekly, err := s.awardWeekly(ctx, userID, today)
		if err != nil {
			return result, err
		}
		if weekly != nil {
			result.Awarded = append(result.Awarded, weekly)
		}
	}

	if latest, err := s.streakRepo.Get(ctx, nil, userID); err == nil && latest != nil {
		result.Streak = latest
	}
	return result, nil
}

// awardDaily 发放当日奖励，登录奖励同一事务内更新连续天数
func (s *StreakService) awardDaily(ctx context.Context, userID int64, event model.ActivityEvent, bonus dailyBonus, today string, now time.Time) (*model.LedgerEntry, bool, error) {
	column := model.BonusColumn(event)
	return s.accrual.credit(ctx, &CreditRequest{
		UserID:        userID,
		Kind:          bonus.kind,
		ReferenceID:   today,
		ReferenceType: RefTypeActivity,
		Award:         &model.AwardKey{BonusType: bonus.awardType, Scope: today},
		afterWrite: func(ctx context.Context, tx *gorm.DB, _ *model.LedgerEntry) error {
			if err := s.streakRepo.MarkBonus(ctx, tx, userID, today, column); err != nil {
				return err
			}
			if event != model.EventLogin {
				return nil
			}
			return s.advanceStreak(ctx, tx, userID, now)
		},
	})
}

// advanceStreak 登录奖励发放时推进连续天数
func (s *StreakService) advanceStreak(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) error {
	st, err := s.streakRepo.Get(ctx, tx, userID)
	if err != nil {
		return err
	}
	if st == nil {
		return nil
	}

	if continuesStreak(st.LastPremiatedLogin, now) {
		st.CurrentStreak++
	} else {
		st.CurrentStreak = 1
	}
	if st.CurrentStreak > st.MaxStreak {
		st.MaxStreak = st.CurrentStreak
	}
	login := now
	st.LastPremiatedLogin = &login
	return s.streakRepo.Save(ctx, tx, st)
}

// awardWeekly 连续登录满 7 的倍数天时发放周奖励
func (s *StreakService) awardWeekly(ctx context.Context, userID int64, today string) (*model.LedgerEntry, error) {
	st, err := s.streakRepo.Get(ctx, nil, userID)
	if err != nil || st == nil {
		return nil, err
	}
	if st.CurrentStreak == 0 || st.CurrentStreak%7 != 0 {
		return nil, nil
	}

	entry, fresh, err := s.accrual.credit(ctx, &CreditRequest{
		UserID:        userID,
		Kind:          model.KindRachaSemanal,
		ReferenceID:   today,
		ReferenceType: RefTypeStreak,
		Award:         &model.AwardKey{BonusType: model.AwardWeeklyStreak, Scope: today},
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateAward) || isCapError(err) {
			s.log.Info("[Streak] 周奖励未发放", zap.Int64("userID", userID), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	if !fresh {
		return nil, nil
	}
	s.log.Info("[Streak] 连续登录奖励", zap.Int64("userID", userID), zap.Int("streak", st.CurrentStreak))
	return entry, nil
}

// GetStreak 查询行为记录，没有记录返回零值
func (s *StreakService) GetStreak(ctx context.Context, userID int64) (*model.ActivityStreak, error) {
	st, err := s.streakRepo.Get(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &model.ActivityStreak{UserID: userID, ResetDate: s.localDate(s.clock())}, nil
	}
	return st, nil
}
