package repository

import (
	"context"
	"errors"

	"ladocoin/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrConfigNotFound = errors.New("配置项不存在")

type ConfigRepository struct {
	db *gorm.DB
}

func NewConfigRepository(db *gorm.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

func (r *ConfigRepository) Get(ctx context.Context, key string) (*model.ConfigSetting, error) {
	var setting model.ConfigSetting
	err := r.db.WithContext(ctx).Where("config_key = ?", key).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &setting, nil
}

func (r *ConfigRepository) List(ctx context.Context) ([]*model.ConfigSetting, error) {
	var settings []*model.ConfigSetting
	err := r.db.WithContext(ctx).Order("config_key ASC").Find(&settings).Error
	return settings, err
}

// CreateIfMissing 只在 key 不存在时写入，返回是否写入
func (r *ConfigRepository) CreateIfMissing(ctx context.Context, key string, value decimal.Decimal, operator string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "config_key"}},
			DoNothing: true,
		}).
		Create(&model.ConfigSetting{Key: key, Value: value, UpdatedBy: operator})
	return result.RowsAffected > 0, result.Error
}

// Set 修改配置并写审计记录，同一事务
func (r *ConfigRepository) Set(ctx context.Context, key string, value decimal.Decimal, operator string) (*model.ConfigChange, error) {
	change := &model.ConfigChange{Key: key, NewValue: value, Operator: operator}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old model.ConfigSetting
		err := tx.Where("config_key = ?", key).First(&old).Error
		switch {
		case err == nil:
			change.OldValue = decimal.NewNullDecimal(old.Value)
			if err := tx.Model(&model.ConfigSetting{}).
				Where("config_key = ?", key).
				Updates(map[string]interface{}{"value": value, "updated_by": operator}).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&model.ConfigSetting{Key: key, Value: value, UpdatedBy: operator}).Error; err != nil {
				return err
			}
		default:
			return err
		}
		return tx.Create(change).Error
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (r *ConfigRepository) ListChanges(ctx context.Context, key string, limit int) ([]*model.ConfigChange, error) {
	var changes []*model.ConfigChange
	err := r.db.WithContext(ctx).
		Where("config_key = ?", key).
		Order("id DESC").
		Limit(limit).
		Find(&changes).Error
	return changes, err
}
