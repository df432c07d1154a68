package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 账本条目
// ============================================================================
//
// LedgerEntry 记录 LadoCoin 的每一笔变动
//
// 【设计原则】
// 1. 只追加，不删除，审计可追溯
// 2. 除 RemainingAmount / Expired 外写入后不可修改，且这两个字段只有
//    LedgerRepository 的条件更新能改
// 3. 入账条目带过期时间，RemainingAmount 只减不增，最低为 0
// 4. 消费/扣减条目 RemainingAmount 恒为 0，不能被再次消费
//
// ============================================================================

type LedgerEntry struct {
	ID              int64           `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EntryNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID          int64           `gorm:"index:idx_entry_user_ref,priority:1;index:idx_entry_fifo,priority:1;not null" json:"user_id"`
	Type            string          `gorm:"type:varchar(32);index:idx_entry_user_ref,priority:2;not null" json:"type"`
	Direction       Direction       `gorm:"type:varchar(16);not null" json:"direction"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"` // 入账为正，消费/扣减为负
	BurnedAmount    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"burned_amount"`
	BalanceBefore   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_before"`
	BalanceAfter    decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"balance_after"`
	ReferenceID     string          `gorm:"type:varchar(64);index:idx_entry_user_ref,priority:3" json:"reference_id"`
	ReferenceType   string          `gorm:"type:varchar(32);index:idx_entry_user_ref,priority:4" json:"reference_type"`
	TransactionDate time.Time       `gorm:"index;not null" json:"transaction_date"`
	ExpirationDate  *time.Time      `gorm:"index:idx_entry_fifo,priority:3;index:idx_entry_sweep,priority:1" json:"expiration_date,omitempty"`
	Expired         bool            `gorm:"index:idx_entry_fifo,priority:2;index:idx_entry_sweep,priority:2;not null;default:false" json:"expired"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"remaining_amount"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// IsCredit 是否为入账条目
func (e *LedgerEntry) IsCredit() bool {
	return e.Direction == DirectionCredit
}

// Kind 还原交易类型
func (e *LedgerEntry) Kind() (Kind, bool) {
	return ParseKind(e.Type)
}

// EntryHead 新条目的公共字段
type EntryHead struct {
	ID            int64
	EntryNo       string
	UserID        int64
	ReferenceID   string
	ReferenceType string
	Date          time.Time
	BalanceBefore decimal.Decimal
}

// NewCreditEntry 构造入账条目，过期时间只能从这里写入
func NewCreditEntry(head EntryHead, kind CreditKind, amount decimal.Decimal, expiresAt time.Time) *LedgerEntry {
	exp := expiresAt
	return &LedgerEntry{
		ID:              head.ID,
		EntryNo:         head.EntryNo,
		UserID:          head.UserID,
		Type:            kind.Code(),
		Direction:       DirectionCredit,
		Amount:          amount,
		BurnedAmount:    decimal.Zero,
		BalanceBefore:   head.BalanceBefore,
		BalanceAfter:    head.BalanceBefore.Add(amount),
		ReferenceID:     head.ReferenceID,
		ReferenceType:   head.ReferenceType,
		TransactionDate: head.Date,
		ExpirationDate:  &exp,
		RemainingAmount: amount,
	}
}

// NewDebitEntry 构造消费条目，amount 为正数，写入时取负
func NewDebitEntry(head EntryHead, kind DebitKind, amount, burned decimal.Decimal) *LedgerEntry {
	return newOutflow(head, kind, amount, burned)
}

// NewDeductionEntry 构造扣减条目
func NewDeductionEntry(head EntryHead, kind DeductionKind, amount decimal.Decimal) *LedgerEntry {
	return newOutflow(head, kind, amount, decimal.Zero)
}

func newOutflow(head EntryHead, kind Kind, amount, burned decimal.Decimal) *LedgerEntry {
	return &LedgerEntry{
		ID:              head.ID,
		EntryNo:         head.EntryNo,
		UserID:          head.UserID,
		Type:            kind.Code(),
		Direction:       kind.Direction(),
		Amount:          amount.Neg(),
		BurnedAmount:    burned,
		BalanceBefore:   head.BalanceBefore,
		BalanceAfter:    head.BalanceBefore.Sub(amount),
		ReferenceID:     head.ReferenceID,
		ReferenceType:   head.ReferenceType,
		TransactionDate: head.Date,
		RemainingAmount: decimal.Zero,
	}
}

// EntryConsumption 一笔消费按 FIFO 从哪些入账条目扣了多少
type EntryConsumption struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	DebitEntryID  int64           `gorm:"index;not null" json:"debit_entry_id"`
	CreditEntryID int64           `gorm:"index;not null" json:"credit_entry_id"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"amount"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (EntryConsumption) TableName() string {
	return "entry_consumption"
}
