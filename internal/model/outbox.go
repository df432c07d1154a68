package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 事务性发件箱
// 与账本条目同一事务写入，由 OutboxSender 投递：
//   - 账本事件 topic 投递到 Kafka
//   - 返佣 topic 在本地交给返佣引擎处理（至少一次，靠引用去重保证幂等）
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);index;not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	LastError  string    `gorm:"type:varchar(512)" json:"last_error"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEventPayload 账本事件消息体
type LedgerEventPayload struct {
	EntryID         int64      `json:"entry_id"`
	EntryNo         string     `json:"entry_no"`
	UserID          int64      `json:"user_id"`
	Type            string     `json:"type"`
	Direction       Direction  `json:"direction"`
	Amount          string     `json:"amount"`
	BurnedAmount    string     `json:"burned_amount"`
	BalanceAfter    string     `json:"balance_after"`
	ReferenceID     string     `json:"reference_id,omitempty"`
	ReferenceType   string     `json:"reference_type,omitempty"`
	TransactionDate time.Time  `json:"transaction_date"`
	ExpirationDate  *time.Time `json:"expiration_date,omitempty"`
}

// CommissionPayload 返佣消息体
type CommissionPayload struct {
	EntryID int64 `json:"entry_id"`
	UserID  int64 `json:"user_id"`
}

// NewLedgerEventPayload 由账本条目生成事件消息体
func NewLedgerEventPayload(e *LedgerEntry) LedgerEventPayload {
	return LedgerEventPayload{
		EntryID:         e.ID,
		EntryNo:         e.EntryNo,
		UserID:          e.UserID,
		Type:            e.Type,
		Direction:       e.Direction,
		Amount:          e.Amount.StringFixed(2),
		BurnedAmount:    e.BurnedAmount.StringFixed(2),
		BalanceAfter:    e.BalanceAfter.StringFixed(2),
		ReferenceID:     e.ReferenceID,
		ReferenceType:   e.ReferenceType,
		TransactionDate: e.TransactionDate,
		ExpirationDate:  e.ExpirationDate,
	}
}
