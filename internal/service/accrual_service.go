package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/pkg/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreditRequest 入账请求
type CreditRequest struct {
	UserID        int64
	Kind          model.CreditKind
	Amount        *decimal.Decimal // 为空时从 ConfigStore 读取该类型的默认金额
	ReferenceID   string           // 非空时按 (用户, 类型, 引用) 去重，重复请求返回原条目
	ReferenceType string
	Award         *model.AwardKey // 一次性奖励的幂等键，已发放返回 ErrDuplicateAward

	// afterWrite 与入账条目同一事务执行（设置推荐奖励标记、累计返佣等）
	afterWrite func(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error
}

// CommissionHandler 入账提交后处理推荐返佣
type CommissionHandler interface {
	OnCredit(ctx context.Context, entry *model.LedgerEntry) error
}

// AccrualService 入账引擎
type AccrualService struct {
	*ledger
	awardRepo    *repository.AwardRepository
	referralRepo *repository.ReferralRepository
	commission   CommissionHandler
}

func NewAccrualService(l *ledger, awardRepo *repository.AwardRepository, referralRepo *repository.ReferralRepository) *AccrualService {
	return &AccrualService{
		ledger:       l,
		awardRepo:    awardRepo,
		referralRepo: referralRepo,
	}
}

// SetCommissionHandler 注入返佣处理（ReferralService 依赖 AccrualService，只能构造后再注入）
func (s *AccrualService) SetCommissionHandler(h CommissionHandler) {
	s.commission = h
}

// Credit 入账
//
// 【流程】
// 1. 解析金额并校验（>0，最多两位小数）
// 2. 加用户锁，开启事务
// 3. 按引用去重；校验一次性奖励
// 4. 受限类型按每日/每月剩余额度截断，额度为 0 直接拒绝
// 5. 写入账条目（过期时间 = 现在 + DiasVencimiento 天）、奖励记录、余额、outbox
// 6. 提交后触发推荐返佣，失败交给 outbox 重试
//
// 奖励、返佣类型只能经由 GrantWelcomeBonus / ReferralService / StreakService 发放
func (s *AccrualService) Credit(ctx context.Context, req *CreditRequest) (*model.LedgerEntry, error) {
	if req.Kind.System() {
		s.countError("credit", ErrSystemKind)
		return nil, fmt.Errorf("%w: %s", ErrSystemKind, req.Kind.Code())
	}
	entry, _, err := s.credit(ctx, req)
	return entry, err
}

// credit 第二个返回值表示本次新写入了条目，按引用命中已有条目时为 false
func (s *AccrualService) credit(ctx context.Context, req *CreditRequest) (*model.LedgerEntry, bool, error) {
	if req.UserID <= 0 {
		return nil, false, ErrInvalidUser
	}
	amount, err := s.resolveAmount(ctx, req)
	if err != nil {
		s.countError("credit", err)
		return nil, false, err
	}

	// 配置在事务外读取
	days, err := s.configs.Int(ctx, model.KeyDiasVencimiento)
	if err != nil {
		return nil, false, err
	}
	var dailyCap, monthlyCap decimal.Decimal
	if req.Kind.Capped() {
		if dailyCap, err = s.configs.Get(ctx, model.KeyMaxPremioDiario); err != nil {
			return nil, false, err
		}
		if monthlyCap, err = s.configs.Get(ctx, model.KeyMaxPremioMensual); err != nil {
			return nil, false, err
		}
	}

	var (
		entry        *model.LedgerEntry
		replayed     bool
		commissionID int64
	)
	err = s.withUserLock(ctx, req.UserID, func() error {
		return s.inTx(ctx, "credit", func(tx *gorm.DB) error {
			entry, replayed, commissionID = nil, false, 0
			now := s.clock()

			if req.ReferenceID != "" {
				existing, err := s.entryRepo.FindByReference(ctx, tx, req.UserID, req.Kind.Code(), req.ReferenceID, req.ReferenceType)
				if err != nil {
					return fmt.Errorf("查询重复入账失败: %w", err)
				}
				if existing != nil {
					entry, replayed = existing, true
					return nil
				}
			}

			if req.Award != nil {
				exists, err := s.awardRepo.Exists(ctx, tx, req.UserID, *req.Award)
				if err != nil {
					return fmt.Errorf("查询奖励记录失败: %w", err)
				}
				if exists {
					return fmt.Errorf("%w: %s/%s", ErrDuplicateAward, req.Award.BonusType, req.Award.Scope)
				}
			}

			credited := amount
			if req.Kind.Capped() {
				credited, err = s.clampToCaps(ctx, tx, req.UserID, amount, dailyCap, monthlyCap, now)
				if err != nil {
					return err
				}
			}

			balance, err := s.balanceRepo.GetOrCreateForUpdate(ctx, tx, req.UserID, now)
			if err != nil {
				return fmt.Errorf("读取余额失败: %w", err)
			}

			head := s.newHead(req.UserID, req.ReferenceID, req.ReferenceType, now, balance)
			entry = model.NewCreditEntry(head, req.Kind, credited, now.AddDate(0, 0, days))
			if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
				return fmt.Errorf("写入账本条目失败: %w", err)
			}

			if req.Award != nil {
				award := &model.BonusAward{
					UserID:    req.UserID,
					BonusType: req.Award.BonusType,
					Scope:     req.Award.Scope,
					EntryID:   entry.ID,
				}
				if err := s.awardRepo.Create(ctx, tx, award); err != nil {
					if errors.Is(err, repository.ErrAwardExists) {
						return fmt.Errorf("%w: %s/%s", ErrDuplicateAward, req.Award.BonusType, req.Award.Scope)
					}
					return fmt.Errorf("写入奖励记录失败: %w", err)
				}
			}

			balance.AvailableBalance = balance.AvailableBalance.Add(credited)
			balance.TotalEarned = balance.TotalEarned.Add(credited)
			if req.Kind.Received() {
				balance.TotalReceived = balance.TotalReceived.Add(credited)
			}
			if err := s.saveBalance(ctx, tx, balance, now); err != nil {
				return err
			}

			if req.afterWrite != nil {
				if err := req.afterWrite(ctx, tx, entry); err != nil {
					return err
				}
			}
			if err := s.writeLedgerEvent(ctx, tx, entry); err != nil {
				return err
			}

			if req.Kind.Commissionable() {
				commissionID, err = s.writeCommissionMessage(ctx, tx, entry)
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		s.countError("credit", err)
		return nil, false, err
	}

	if replayed {
		s.log.Info("[Accrual] 重复入账请求，返回原条目",
			zap.Int64("userID", req.UserID),
			zap.String("type", req.Kind.Code()),
			zap.String("referenceID", req.ReferenceID),
			zap.Int64("entryID", entry.ID))
		return entry, false, nil
	}

	s.observe(entry)
	s.log.Info("[Accrual] 入账成功",
		zap.Int64("userID", entry.UserID),
		zap.String("type", entry.Type),
		zap.String("amount", entry.Amount.StringFixed(2)),
		zap.String("balance", entry.BalanceAfter.StringFixed(2)),
		zap.Int64("entryID", entry.ID))

	if commissionID != 0 {
		s.dispatchCommission(ctx, entry, commissionID)
	}
	return entry, true, nil
}

// resolveAmount 未指定金额时使用该类型的配置金额
func (s *AccrualService) resolveAmount(ctx context.Context, req *CreditRequest) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if req.Amount != nil {
		amount = *req.Amount
	} else {
		if req.Kind.ConfigKey() == "" {
			return decimal.Zero, fmt.Errorf("%w: %s 必须指定金额", ErrInvalidAmount, req.Kind.Code())
		}
		v, err := s.configs.Get(ctx, req.Kind.ConfigKey())
		if err != nil {
			return decimal.Zero, err
		}
		amount = v
	}
	if err := money.Validate(amount); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidAmount, amount.String(), err)
	}
	return amount, nil
}

// clampToCaps 受限类型入账按剩余额度截断
//
// 每日/每月按 UTC 自然日、自然月统计，返佣也计入推荐人的额度
func (s *AccrualService) clampToCaps(ctx context.Context, tx *gorm.DB, userID int64, amount, dailyCap, monthlyCap decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	codes := model.CappedCreditCodes()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	today, err := s.entryRepo.SumCredits(ctx, tx, userID, codes, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return decimal.Zero, fmt.Errorf("统计当日奖励失败: %w", err)
	}
	// 上限配置可能超过两位小数，剩余额度向下截断，不足 0.01 视为已达上限
	dailyLeft := money.Truncate(dailyCap.Sub(today))
	if !dailyLeft.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: userID=%d 今日已获得 %s", ErrDailyCapExceeded, userID, today.StringFixed(2))
	}

	month, err := s.entryRepo.SumCredits(ctx, tx, userID, codes, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return decimal.Zero, fmt.Errorf("统计当月奖励失败: %w", err)
	}
	monthlyLeft := money.Truncate(monthlyCap.Sub(month))
	if !monthlyLeft.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: userID=%d 本月已获得 %s", ErrMonthlyCapExceeded, userID, month.StringFixed(2))
	}

	credited := money.Min(amount, money.Min(dailyLeft, monthlyLeft))
	if credited.LessThan(amount) {
		s.log.Info("[Accrual] 奖励按上限截断",
			zap.Int64("userID", userID),
			zap.String("requested", amount.StringFixed(2)),
			zap.String("credited", credited.StringFixed(2)))
	}
	return credited, nil
}

// writeCommissionMessage 被推荐人在返佣期内时写入返佣消息，返回消息ID（无推荐关系返回 0）
func (s *AccrualService) writeCommissionMessage(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) (int64, error) {
	link, err := s.referralRepo.GetByReferred(ctx, tx, entry.UserID)
	if err != nil {
		return 0, fmt.Errorf("查询推荐关系失败: %w", err)
	}
	if link == nil || !link.CommissionActive {
		return 0, nil
	}

	payload, err := json.Marshal(model.CommissionPayload{EntryID: entry.ID, UserID: entry.UserID})
	if err != nil {
		return 0, err
	}
	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(entry.ID, 10),
		Topic:      s.cfg.Kafka.Topic.Commission,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return 0, fmt.Errorf("写入返佣消息失败: %w", err)
	}
	return msg.ID, nil
}

// dispatchCommission 提交后立即处理返佣，成功则标记消息已发送，失败留给 OutboxSender 重试
func (s *AccrualService) dispatchCommission(ctx context.Context, entry *model.LedgerEntry, msgID int64) {
	if s.commission == nil {
		return
	}
	if err := s.commission.OnCredit(ctx, entry); err != nil {
		s.log.Warn("[Accrual] 返佣处理失败，等待重试",
			zap.Int64("entryID", entry.ID),
			zap.Int64("messageID", msgID),
			zap.Error(err))
		return
	}
	if err := s.outboxRepo.MarkSent(ctx, msgID); err != nil {
		s.log.Warn("[Accrual] 标记返佣消息失败", zap.Int64("messageID", msgID), zap.Error(err))
	}
}

// GrantWelcomeBonus 注册奖励，每个用户只发一次
func (s *AccrualService) GrantWelcomeBonus(ctx context.Context, userID int64) (*model.LedgerEntry, error) {
	entry, _, err := s.credit(ctx, &CreditRequest{
		UserID:        userID,
		Kind:          model.KindBonoBienvenida,
		ReferenceType: RefTypeWelcome,
		Award:         &model.AwardKey{BonusType: model.AwardWelcome, Scope: model.AwardScopeGlobal},
	})
	return entry, err
}
