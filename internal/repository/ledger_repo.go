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
	ErrEntryNotFound = errors.New("账本条目不存在")
	// ErrEntryChanged 条件更新未命中：条目在读取之后已过期或剩余额度已变化
	ErrEntryChanged = errors.New("入账条目已变更")
)

// LedgerRepository 账本条目仓储
// 入账条目的 remaining_amount / expired 只能通过 Consume 和 MarkExpired 修改
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	return r.conn(tx).WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FindByReference 按 (用户, 类型, 引用) 查找已入账条目，不存在返回 nil
func (r *LedgerRepository) FindByReference(ctx context.Context, tx *gorm.DB, userID int64, typ, refID, refType string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND type = ? AND reference_id = ? AND reference_type = ?", userID, typ, refID, refType).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListConsumable 可消费的入账条目，按过期时间升序（先过期的先用），同一过期时间按写入顺序
func (r *LedgerRepository) ListConsumable(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND direction = ? AND expired = ? AND remaining_amount > 0 AND expiration_date > ?",
			userID, model.DirectionCredit, false, now).
		Order("expiration_date ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ListOverdueByUser 某用户已到期但尚未处理的入账条目
func (r *LedgerRepository) ListOverdueByUser(ctx context.Context, tx *gorm.DB, userID int64, now time.Time) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ? AND direction = ? AND expired = ? AND remaining_amount > 0 AND expiration_date <= ?",
			userID, model.DirectionCredit, false, now).
		Order("expiration_date ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// OverdueQuery 过期任务分页条件
type OverdueQuery struct {
	Now        time.Time
	From       time.Time // 断点：只扫描 expiration_date >= From
	UserIDMin  int64     // 0 表示不限
	UserIDMax  int64     // 0 表示不限
	ExcludeIDs []int64   // 本轮已失败的条目
	Limit      int
}

// ListOverdue 跨用户扫描到期条目
func (r *LedgerRepository) ListOverdue(ctx context.Context, q OverdueQuery) ([]*model.LedgerEntry, error) {
	query := r.db.WithContext(ctx).
		Where("direction = ? AND expired = ? AND remaining_amount > 0 AND expiration_date <= ? AND expiration_date >= ?",
			model.DirectionCredit, false, q.Now, q.From)
	if q.UserIDMin > 0 {
		query = query.Where("user_id >= ?", q.UserIDMin)
	}
	if q.UserIDMax > 0 {
		query = query.Where("user_id <= ?", q.UserIDMax)
	}
	if len(q.ExcludeIDs) > 0 {
		query = query.Where("id NOT IN ?", q.ExcludeIDs)
	}

	var entries []*model.LedgerEntry
	err := query.
		Order("expiration_date ASC").
		Order("id ASC").
		Limit(q.Limit).
		Find(&entries).Error
	return entries, err
}

// Consume 扣减入账条目的剩余额度
//
// 条件更新同时校验：未过期、过期时间仍在 now 之后、剩余额度没被别人改过
// 任何一个不满足都返回 ErrEntryChanged，由调用方整体重试
func (r *LedgerRepository) Consume(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry, newRemaining decimal.Decimal, now time.Time) error {
	if newRemaining.IsNegative() {
		newRemaining = decimal.Zero
	}
	result := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND expired = ? AND expiration_date > ? AND remaining_amount = ?",
			entry.ID, false, now, entry.RemainingAmount).
		Update("remaining_amount", newRemaining)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntryChanged
	}
	entry.RemainingAmount = newRemaining
	return nil
}

// MarkExpired 将到期条目标记为已过期并清零剩余额度
// 返回 false 表示条目已被处理过（或已用完），调用方应视为无操作
func (r *LedgerRepository) MarkExpired(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry, now time.Time) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND expired = ? AND remaining_amount = ? AND expiration_date <= ?",
			entry.ID, false, entry.RemainingAmount, now).
		Updates(map[string]interface{}{
			"expired":          true,
			"remaining_amount": decimal.Zero,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

type sumRow struct {
	Total decimal.NullDecimal
}

// SumCredits 某时间段内指定类型的入账总额
func (r *LedgerRepository) SumCredits(ctx context.Context, tx *gorm.DB, userID int64, types []string, from, to time.Time) (decimal.Decimal, error) {
	var row sumRow
	err := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("SUM(amount) AS total").
		Where("user_id = ? AND direction = ? AND type IN ? AND transaction_date >= ? AND transaction_date < ?",
			userID, model.DirectionCredit, types, from, to).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !row.Total.Valid {
		return decimal.Zero, nil
	}
	return row.Total.Decimal.Round(2), nil
}

// SumRemaining 未过期入账条目的剩余额度之和
// expiringBefore 非 nil 时只统计在该时间之前（含）过期的条目
func (r *LedgerRepository) SumRemaining(ctx context.Context, tx *gorm.DB, userID int64, expiringBefore *time.Time) (decimal.Decimal, error) {
	query := r.conn(tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("SUM(remaining_amount) AS total").
		Where("user_id = ? AND direction = ? AND expired = ? AND remaining_amount > 0",
			userID, model.DirectionCredit, false)
	if expiringBefore != nil {
		query = query.Where("expiration_date <= ?", *expiringBefore)
	}

	var row sumRow
	if err := query.Scan(&row).Error; err != nil {
		return decimal.Zero, err
	}
	if !row.Total.Valid {
		return decimal.Zero, nil
	}
	return row.Total.Decimal.Round(2), nil
}

func (r *LedgerRepository) CreateConsumptions(ctx context.Context, tx *gorm.DB, items []*model.EntryConsumption) error {
	if len(items) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(&items).Error
}

func (r *LedgerRepository) ListConsumptions(ctx context.Context, debitEntryID int64) ([]*model.EntryConsumption, error) {
	var items []*model.EntryConsumption
	err := r.db.WithContext(ctx).
		Where("debit_entry_id = ?", debitEntryID).
		Order("id ASC").
		Find(&items).Error
	return items, err
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("transaction_date DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}
