package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"github.com/shopspring/decimal"
)

// BalanceView 余额查询结果
type BalanceView struct {
	UserID              int64           `json:"user_id"`
	AvailableBalance    decimal.Decimal `json:"available_balance"`
	ExpiringSoonBalance decimal.Decimal `json:"expiring_soon_balance"`
	TotalEarned         decimal.Decimal `json:"total_earned"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	TotalBurned         decimal.Decimal `json:"total_burned"`
	TotalReceived       decimal.Decimal `json:"total_received"`
	LastUpdated         time.Time       `json:"last_updated"`
}

// Reconciliation 余额对账结果
type Reconciliation struct {
	UserID           int64           `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	RemainingSum     decimal.Decimal `json:"remaining_sum"` // 未过期入账条目剩余额度之和
	Drift            decimal.Decimal `json:"drift"`         // earned - spent - burned - available
	Consistent       bool            `json:"consistent"`
}

// BalanceService 余额查询
type BalanceService struct {
	*ledger
}

func NewBalanceService(l *ledger) *BalanceService {
	return &BalanceService{ledger: l}
}

// GetBalance 查询余额，没有账户的用户返回全 0
// ExpiringSoonBalance 按查询时刻实时计算
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (*BalanceView, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return &BalanceView{UserID: userID}, nil
		}
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}

	soon := s.clock().AddDate(0, 0, s.cfg.Ledger.ExpiringSoonDays)
	expiring, err := s.entryRepo.SumRemaining(ctx, nil, userID, &soon)
	if err != nil {
		return nil, fmt.Errorf("统计即将过期余额失败: %w", err)
	}

	return &BalanceView{
		UserID:              userID,
		AvailableBalance:    balance.AvailableBalance,
		ExpiringSoonBalance: expiring,
		TotalEarned:         balance.TotalEarned,
		TotalSpent:          balance.TotalSpent,
		TotalBurned:         balance.TotalBurned,
		TotalReceived:       balance.TotalReceived,
		LastUpdated:         balance.LastUpdated,
	}, nil
}

// ListEntries 分页查询账本流水
func (s *BalanceService) ListEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.entryRepo.ListByUserID(ctx, userID, page, pageSize)
}

// ListConsumptions 某笔消费的 FIFO 消耗明细
func (s *BalanceService) ListConsumptions(ctx context.Context, debitEntryID int64) ([]*model.EntryConsumption, error) {
	return s.entryRepo.ListConsumptions(ctx, debitEntryID)
}

// Reconcile 对账：可用余额应等于未过期条目剩余额度之和，且汇总字段无偏差
func (s *BalanceService) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return &Reconciliation{UserID: userID, Consistent: true}, nil
		}
		return nil, err
	}
	remaining, err := s.entryRepo.SumRemaining(ctx, nil, userID, nil)
	if err != nil {
		return nil, err
	}
	drift := balance.Drift()
	return &Reconciliation{
		UserID:           userID,
		AvailableBalance: balance.AvailableBalance,
		RemainingSum:     remaining,
		Drift:            drift,
		Consistent:       drift.IsZero() && remaining.Equal(balance.AvailableBalance),
	}, nil
}
