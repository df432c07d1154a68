package repository

import (
	"context"
	"errors"
	"time"

	"ladocoin/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrReferralNotFound = errors.New("推荐关系不存在")
	ErrReferralExists   = errors.New("该用户已有推荐人")
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

func (r *ReferralRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *ReferralRepository) Create(ctx context.Context, tx *gorm.DB, link *model.ReferralLink) error {
	err := r.conn(tx).WithContext(ctx).Create(link).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrReferralExists
	}
	return err
}

func (r *ReferralRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.ReferralLink, error) {
	var link model.ReferralLink
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &link, nil
}

// GetByReferred 查询被推荐人的推荐关系，不存在返回 nil
func (r *ReferralRepository) GetByReferred(ctx context.Context, tx *gorm.DB, referredUserID int64) (*model.ReferralLink, error) {
	var link model.ReferralLink
	err := r.conn(tx).WithContext(ctx).Where("referred_user_id = ?", referredUserID).First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID int64) ([]*model.ReferralLink, error) {
	var links []*model.ReferralLink
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("id ASC").
		Find(&links).Error
	return links, err
}

// MarkBonusDelivered 设置一次性奖励已发放标记
func (r *ReferralRepository) MarkBonusDelivered(ctx context.Context, tx *gorm.DB, id int64, column string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.ReferralLink{}).
		Where("id = ?", id).
		Update(column, true).Error
}

// AddCommission 累加返佣总额
func (r *ReferralRepository) AddCommission(ctx context.Context, tx *gorm.DB, id int64, amount decimal.Decimal) error {
	link, err := r.GetByID(ctx, tx, id)
	if err != nil {
		return err
	}
	return r.conn(tx).WithContext(ctx).
		Model(&model.ReferralLink{}).
		Where("id = ?", id).
		Update("total_commission_earned", link.TotalCommissionEarned.Add(amount)).Error
}

// Deactivate 关闭返佣（只能 true -> false），返回是否由本次调用关闭
func (r *ReferralRepository) Deactivate(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.ReferralLink{}).
		Where("id = ? AND commission_active = ?", id, true).
		Update("commission_active", false)
	return result.RowsAffected > 0, result.Error
}

// DeactivateExpired 批量关闭返佣期已结束的推荐关系
func (r *ReferralRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.ReferralLink{}).
		Where("commission_active = ? AND commission_expiration_date < ?", true, now).
		Update("commission_active", false)
	return result.RowsAffected, result.Error
}
