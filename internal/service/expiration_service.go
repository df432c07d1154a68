package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpirationService 入账条目到期处理
//
// 到期条目的剩余额度从可用余额中移除，计入 TotalBurned，并写一条 Vencimiento 扣减条目
// MarkExpired 是条件更新，同一条目无论被处理多少次都只会扣一次
type ExpirationService struct {
	*ledger
}

func NewExpirationService(l *ledger) *ExpirationService {
	return &ExpirationService{ledger: l}
}

// ExpireResult 批量过期结果
type ExpireResult struct {
	Expired int
	Skipped int
	Amount  decimal.Decimal
	Failed  map[int64]error
}

// ExpireEntries 处理某用户的一批到期条目，每个条目一个事务
// 单个条目失败不影响其余条目，失败原因记在 Failed 里
func (s *ExpirationService) ExpireEntries(ctx context.Context, userID int64, ids []int64) (*ExpireResult, error) {
	result := &ExpireResult{Amount: decimal.Zero, Failed: make(map[int64]error)}

	err := s.withUserLock(ctx, userID, func() error {
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var expired decimal.Decimal
			err := s.inTx(ctx, "expire", func(tx *gorm.DB) error {
				expired = decimal.Zero
				now := s.clock()

				entry, err := s.entryRepo.GetByID(ctx, tx, id)
				if err != nil {
					return err
				}
				if entry.UserID != userID || !entry.IsCredit() || entry.Expired ||
					!entry.RemainingAmount.IsPositive() || entry.ExpirationDate == nil || entry.ExpirationDate.After(now) {
					return nil
				}

				balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, userID, now)
				if err != nil {
					return fmt.Errorf("读取余额失败: %w", err)
				}
				amount, err := s.expireOne(ctx, tx, balance, entry, now)
				if err != nil || amount.IsZero() {
					return err
				}
				expired = amount
				return s.saveBalance(ctx, tx, balance, now)
			})
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				result.Failed[id] = err
				s.countError("expire", err)
				s.log.Error("[Expiration] 条目过期处理失败",
					zap.Int64("userID", userID), zap.Int64("entryID", id), zap.Error(err))
				continue
			}
			if expired.IsZero() {
				result.Skipped++
				continue
			}
			result.Expired++
			result.Amount = result.Amount.Add(expired)
		}
		return nil
	})
	if result.Expired > 0 {
		metrics.AddDecimal(s.metrics.Expired, result.Amount)
		s.log.Info("[Expiration] 用户到期额度已处理",
			zap.Int64("userID", userID),
			zap.Int("expired", result.Expired),
			zap.String("amount", result.Amount.StringFixed(2)))
	}
	return result, err
}

// expireOverdue 在调用方事务内处理用户全部到期条目，只修改 balance 不写回
// 消费前调用，保证 FIFO 不会选中已到期的额度
func (s *ExpirationService) expireOverdue(ctx context.Context, tx *gorm.DB, balance *model.AccountBalance, now time.Time) (decimal.Decimal, error) {
	overdue, err := s.entryRepo.ListOverdueByUser(ctx, tx, balance.UserID, now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("查询到期条目失败: %w", err)
	}
	total := decimal.Zero
	for _, entry := range overdue {
		amount, err := s.expireOne(ctx, tx, balance, entry, now)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, nil
}

// expireOne 过期单个条目，返回移除的额度；条目已被处理过返回 0
func (s *ExpirationService) expireOne(ctx context.Context, tx *gorm.DB, balance *model.AccountBalance, entry *model.LedgerEntry, now time.Time) (decimal.Decimal, error) {
	amount := entry.RemainingAmount
	ok, err := s.entryRepo.MarkExpired(ctx, tx, entry, now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("标记条目过期失败: %w", err)
	}
	if !ok {
		return decimal.Zero, nil
	}

	head := s.newHead(balance.UserID, strconv.FormatInt(entry.ID, 10), RefTypeLedgerEntry, now, balance)
	deduction := model.NewDeductionEntry(head, model.KindVencimiento, amount)
	if err := s.entryRepo.Create(ctx, tx, deduction); err != nil {
		return decimal.Zero, fmt.Errorf("写入过期条目失败: %w", err)
	}
	balance.AvailableBalance = balance.AvailableBalance.Sub(amount)
	balance.TotalBurned = balance.TotalBurned.Add(amount)

	if err := s.writeLedgerEvent(ctx, tx, deduction); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ListOverdue 过期任务扫描入口
func (s *ExpirationService) ListOverdue(ctx context.Context, q repository.OverdueQuery) ([]*model.LedgerEntry, error) {
	if q.Now.IsZero() {
		q.Now = s.clock()
	}
	return s.entryRepo.ListOverdue(ctx, q)
}

// Now 服务时钟
func (s *ExpirationService) Now() time.Time {
	return s.clock()
}
