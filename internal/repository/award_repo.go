package repository

import (
	"context"
	"errors"

	"ladocoin/internal/model"

	"gorm.io/gorm"
)

var ErrAwardExists = errors.New("奖励已发放")

// AwardRepository 奖励幂等表
type AwardRepository struct {
	db *gorm.DB
}

func NewAwardRepository(db *gorm.DB) *AwardRepository {
	return &AwardRepository{db: db}
}

func (r *AwardRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AwardRepository) Exists(ctx context.Context, tx *gorm.DB, userID int64, key model.AwardKey) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.BonusAward{}).
		Where("user_id = ? AND bonus_type = ? AND scope = ?", userID, key.BonusType, key.Scope).
		Count(&count).Error
	return count > 0, err
}

// Create 写入幂等记录，唯一索引冲突返回 ErrAwardExists
func (r *AwardRepository) Create(ctx context.Context, tx *gorm.DB, award *model.BonusAward) error {
	err := r.conn(tx).WithContext(ctx).Create(award).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAwardExists
	}
	return err
}

func (r *AwardRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.BonusAward, error) {
	var awards []*model.BonusAward
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&awards).Error
	return awards, err
}
