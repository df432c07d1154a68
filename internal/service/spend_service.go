package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DebitRequest 消费请求
type DebitRequest struct {
	UserID        int64
	Kind          model.DebitKind
	Amount        decimal.Decimal
	ReferenceID   string // 非空时按引用去重
	ReferenceType string
}

// DeductRequest 后台扣减请求，不销毁
type DeductRequest struct {
	UserID        int64
	Kind          model.DeductionKind
	Amount        decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Operator      string
}

// SpendService 消费引擎
//
// 【FIFO 消费】
//
//	候选：未过期、剩余 > 0、过期时间 > now 的入账条目
//	顺序：expiration_date ASC, id ASC（先过期的先用）
//
// 消费前先在同一事务内处理该用户已到期但任务尚未扫到的条目，
// 选中的条目在提交前过期会使条件更新失败，整个事务用新的读取重做
type SpendService struct {
	*ledger
	expiration *ExpirationService
}

func NewSpendService(l *ledger, expiration *ExpirationService) *SpendService {
	return &SpendService{ledger: l, expiration: expiration}
}

type outflow struct {
	op            string
	userID        int64
	kind          model.Kind
	amount        decimal.Decimal
	referenceID   string
	referenceType string
	build         func(head model.EntryHead) *model.LedgerEntry
}

// Debit 消费，按 PorcentajeQuema 销毁一部分
//
// 销毁部分从消费金额中划出：可用余额减少 amount，TotalBurned 增加 burn，TotalSpent 增加 amount-burn
func (s *SpendService) Debit(ctx context.Context, req *DebitRequest) (*model.LedgerEntry, error) {
	if req.UserID <= 0 {
		return nil, ErrInvalidUser
	}
	if err := money.Validate(req.Amount); err != nil {
		s.countError("debit", ErrInvalidAmount)
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAmount, req.Amount.String(), err)
	}
	pct, err := s.configs.Get(ctx, model.KeyPorcentajeQuema)
	if err != nil {
		return nil, err
	}
	burned := money.Percent(req.Amount, pct)

	return s.spend(ctx, &outflow{
		op:            "debit",
		userID:        req.UserID,
		kind:          req.Kind,
		amount:        req.Amount,
		referenceID:   req.ReferenceID,
		referenceType: req.ReferenceType,
		build: func(head model.EntryHead) *model.LedgerEntry {
			return model.NewDebitEntry(head, req.Kind, req.Amount, burned)
		},
	})
}

// Deduct 后台人工扣减，同样按 FIFO 消耗入账条目
func (s *SpendService) Deduct(ctx context.Context, req *DeductRequest) (*model.LedgerEntry, error) {
	if req.UserID <= 0 {
		return nil, ErrInvalidUser
	}
	if err := money.Validate(req.Amount); err != nil {
		s.countError("deduct", ErrInvalidAmount)
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAmount, req.Amount.String(), err)
	}
	entry, err := s.spend(ctx, &outflow{
		op:            "deduct",
		userID:        req.UserID,
		kind:          req.Kind,
		amount:        req.Amount,
		referenceID:   req.ReferenceID,
		referenceType: req.ReferenceType,
		build: func(head model.EntryHead) *model.LedgerEntry {
			return model.NewDeductionEntry(head, req.Kind, req.Amount)
		},
	})
	if err == nil {
		s.log.Info("[Spend] 后台扣减", zap.Int64("userID", req.UserID), zap.String("operator", req.Operator),
			zap.String("amount", req.Amount.StringFixed(2)), zap.Int64("entryID", entry.ID))
	}
	return entry, err
}

func (s *SpendService) spend(ctx context.Context, o *outflow) (*model.LedgerEntry, error) {
	var (
		entry    *model.LedgerEntry
		replayed bool
		expired  decimal.Decimal
	)
	err := s.withUserLock(ctx, o.userID, func() error {
		return s.inTx(ctx, o.op, func(tx *gorm.DB) error {
			entry, replayed, expired = nil, false, decimal.Zero
			now := s.clock()

			if o.referenceID != "" {
				existing, err := s.entryRepo.FindByReference(ctx, tx, o.userID, o.kind.Code(), o.referenceID, o.referenceType)
				if err != nil {
					return fmt.Errorf("查询重复消费失败: %w", err)
				}
				if existing != nil {
					entry, replayed = existing, true
					return nil
				}
			}

			balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, o.userID, now)
			if err != nil {
				return fmt.Errorf("读取余额失败: %w", err)
			}
			if expired, err = s.expiration.expireOverdue(ctx, tx, balance, now); err != nil {
				return err
			}
			if o.amount.GreaterThan(balance.AvailableBalance) {
				// 到期处理也一起回滚，留给过期任务
				return fmt.Errorf("%w: 可用 %s，需要 %s", ErrInsufficientFunds,
					balance.AvailableBalance.StringFixed(2), o.amount.StringFixed(2))
			}

			head := s.newHead(o.userID, o.referenceID, o.referenceType, now, balance)
			entry = o.build(head)

			consumptions, err := s.consumeFIFO(ctx, tx, entry, o.amount, now)
			if err != nil {
				return err
			}
			if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
				return fmt.Errorf("写入账本条目失败: %w", err)
			}
			if err := s.entryRepo.CreateConsumptions(ctx, tx, consumptions); err != nil {
				return fmt.Errorf("写入消耗明细失败: %w", err)
			}

			burned := entry.BurnedAmount
			balance.AvailableBalance = balance.AvailableBalance.Sub(o.amount)
			balance.TotalBurned = balance.TotalBurned.Add(burned)
			balance.TotalSpent = balance.TotalSpent.Add(o.amount.Sub(burned))
			if err := s.saveBalance(ctx, tx, balance, now); err != nil {
				return err
			}
			return s.writeLedgerEvent(ctx, tx, entry)
		})
	})
	if err != nil {
		s.countError(o.op, err)
		if !errors.Is(err, ErrInsufficientFunds) {
			s.log.Warn("[Spend] 消费失败", zap.String("op", o.op), zap.Int64("userID", o.userID), zap.Error(err))
		}
		return nil, err
	}
	if replayed {
		s.log.Info("[Spend] 重复消费请求，返回原条目",
			zap.Int64("userID", o.userID), zap.String("referenceID", o.referenceID), zap.Int64("entryID", entry.ID))
		return entry, nil
	}

	if expired.IsPositive() {
		metrics.AddDecimal(s.metrics.Expired, expired)
	}
	s.observe(entry)
	s.log.Info("[Spend] 消费成功",
		zap.Int64("userID", entry.UserID),
		zap.String("type", entry.Type),
		zap.String("amount", o.amount.StringFixed(2)),
		zap.String("burned", entry.BurnedAmount.StringFixed(2)),
		zap.String("balance", entry.BalanceAfter.StringFixed(2)),
		zap.Int64("entryID", entry.ID))
	return entry, nil
}

// consumeFIFO 按 FIFO 扣减入账条目，返回消耗明细
func (s *SpendService) consumeFIFO(ctx context.Context, tx *gorm.DB, debit *model.LedgerEntry, amount decimal.Decimal, now time.Time) ([]*model.EntryConsumption, error) {
	candidates, err := s.entryRepo.ListConsumable(ctx, tx, debit.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("查询可消费条目失败: %w", err)
	}

	need := amount
	var consumptions []*model.EntryConsumption
	for _, credit := range candidates {
		if !need.IsPositive() {
			break
		}
		take := money.Min(credit.RemainingAmount, need)
		if err := s.entryRepo.Consume(ctx, tx, credit, credit.RemainingAmount.Sub(take), now); err != nil {
			if errors.Is(err, repository.ErrEntryChanged) {
				return nil, fmt.Errorf("%w: entryID=%d", ErrExpirationRace, credit.ID)
			}
			return nil, fmt.Errorf("扣减入账条目失败: %w", err)
		}
		consumptions = append(consumptions, &model.EntryConsumption{
			DebitEntryID:  debit.ID,
			CreditEntryID: credit.ID,
			UserID:        debit.UserID,
			Amount:        take,
		})
		need = need.Sub(take)
	}

	if need.IsPositive() {
		// 余额与条目剩余额度不一致
		s.log.Error("[Spend] 可消费额度不足以覆盖余额",
			zap.Int64("userID", debit.UserID),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("missing", need.StringFixed(2)))
		return nil, fmt.Errorf("%w: 可消费条目缺少 %s", ErrInsufficientFunds, need.StringFixed(2))
	}
	return consumptions, nil
}
