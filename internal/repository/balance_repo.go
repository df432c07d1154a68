package repository

import (
	"context"
	"errors"
	"time"

	"ladocoin/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound = errors.New("余额账户不存在")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.AccountBalance, error) {
	var balance model.AccountBalance
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreateForUpdate 事务内获取（不存在则创建）余额行并加行锁
func (r *BalanceRepository) GetOrCreateForUpdate(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) (*model.AccountBalance, error) {
	newBalance := &model.AccountBalance{
		UserID:              userID,
		AvailableBalance:    decimal.Zero,
		ExpiringSoonBalance: decimal.Zero,
		TotalEarned:         decimal.Zero,
		TotalSpent:          decimal.Zero,
		TotalBurned:         decimal.Zero,
		TotalReceived:       decimal.Zero,
		LastUpdated:         now,
	}
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newBalance).Error
	if err != nil {
		return nil, err
	}

	var balance model.AccountBalance
	err = r.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// Save 按版本号写回余额，版本不匹配返回 ErrOptimisticLock
func (r *BalanceRepository) Save(ctx context.Context, tx *gorm.DB, balance *model.AccountBalance) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.AccountBalance{}).
		Where("user_id = ? AND version = ?", balance.UserID, balance.Version).
		Updates(map[string]interface{}{
			"available_balance":     balance.AvailableBalance,
			"expiring_soon_balance": balance.ExpiringSoonBalance,
			"total_earned":          balance.TotalEarned,
			"total_spent":           balance.TotalSpent,
			"total_burned":          balance.TotalBurned,
			"total_received":        balance.TotalReceived,
			"last_updated":          balance.LastUpdated,
			"version":               gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	balance.Version++
	return nil
}

// ListUserIDs 分页列出有余额记录的用户，对账使用
func (r *BalanceRepository) ListUserIDs(ctx context.Context, afterUserID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.AccountBalance{}).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}
