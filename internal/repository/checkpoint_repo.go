package repository

import (
	"context"
	"errors"

	"ladocoin/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CheckpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// Get 读取断点，不存在返回 nil
func (r *CheckpointRepository) Get(ctx context.Context, name string) (*model.SweepCheckpoint, error) {
	var cp model.SweepCheckpoint
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (r *CheckpointRepository) Save(ctx context.Context, cp *model.SweepCheckpoint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_expiration", "processed", "updated_at"}),
		}).
		Create(cp).Error
}
