package repository

import (
	"context"
	"errors"

	"ladocoin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StreakRepository struct {
	db *gorm.DB
}

func NewStreakRepository(db *gorm.DB) *StreakRepository {
	return &StreakRepository{db: db}
}

func (r *StreakRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// Get 查询用户行为记录，不存在返回 nil
func (r *StreakRepository) Get(ctx context.Context, tx *gorm.DB, userID int64) (*model.ActivityStreak, error) {
	var streak model.ActivityStreak
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&streak).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &streak, nil
}

func (r *StreakRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64, today string) (*model.ActivityStreak, error) {
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.ActivityStreak{UserID: userID, ResetDate: today}).Error
	if err != nil {
		return nil, err
	}

	var streak model.ActivityStreak
	if err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&streak).Error; err != nil {
		return nil, err
	}
	return &streak, nil
}

func (r *StreakRepository) Save(ctx context.Context, tx *gorm.DB, streak *model.ActivityStreak) error {
	return r.conn(tx).WithContext(ctx).Save(streak).Error
}

// MarkBonus 设置当日奖励标记，只在 reset_date 仍为当天时生效
func (r *StreakRepository) MarkBonus(ctx context.Context, tx *gorm.DB, userID int64, resetDate, column string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.ActivityStreak{}).
		Where("user_id = ? AND reset_date = ?", userID, resetDate).
		Update(column, true).Error
}
