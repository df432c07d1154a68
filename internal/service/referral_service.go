package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/pkg/money"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReferralService 推荐关系与返佣
//
// 【奖励】
//   - 注册时：推荐人 BonoReferidor，被推荐人 BonoReferido，各一次
//   - 被推荐人成为创作者：推荐人 BonoCreadorReferido，一次
//   - 返佣期内被推荐人的互动类入账：推荐人获得 金额 × ComisionReferidoPorcentaje / 100
//
// 返佣入账引用源条目ID，同一源条目无论处理几次只入账一次
type ReferralService struct {
	*ledger
	referralRepo *repository.ReferralRepository
	accrual      *AccrualService
}

func NewReferralService(l *ledger, referralRepo *repository.ReferralRepository, accrual *AccrualService) *ReferralService {
	return &ReferralService{ledger: l, referralRepo: referralRepo, accrual: accrual}
}

// Register 建立推荐关系并发放双方注册奖励
//
// 同一对用户重复调用是安全的：已建立的关系直接复用，已发放的奖励不会重复发放
func (s *ReferralService) Register(ctx context.Context, referrerID, referredID int64, code string) (*model.ReferralLink, error) {
	if referrerID <= 0 || referredID <= 0 {
		return nil, ErrInvalidUser
	}
	if referrerID == referredID {
		return nil, ErrSelfReferral
	}
	months, err := s.configs.Int(ctx, model.KeyMesesComisionReferido)
	if err != nil {
		return nil, err
	}

	link, err := s.referralRepo.GetByReferred(ctx, nil, referredID)
	if err != nil {
		return nil, fmt.Errorf("查询推荐关系失败: %w", err)
	}
	if link == nil {
		now := s.clock()
		link = &model.ReferralLink{
			ReferrerID:               referrerID,
			ReferredUserID:           referredID,
			CodeUsed:                 strings.TrimSpace(code),
			RegistrationDate:         now,
			CommissionExpirationDate: now.AddDate(0, months, 0),
			CommissionActive:         true,
		}
		if err := s.referralRepo.Create(ctx, nil, link); err != nil {
			if !errors.Is(err, repository.ErrReferralExists) {
				return nil, fmt.Errorf("创建推荐关系失败: %w", err)
			}
			// 并发注册，以先写入的为准
			if link, err = s.referralRepo.GetByReferred(ctx, nil, referredID); err != nil || link == nil {
				return nil, fmt.Errorf("%w: referredID=%d", ErrReferralExists, referredID)
			}
		} else {
			s.log.Info("[Referral] 推荐关系已建立",
				zap.Int64("referrerID", referrerID),
				zap.Int64("referredID", referredID),
				zap.Time("commissionUntil", link.CommissionExpirationDate))
		}
	}
	if link.ReferrerID != referrerID {
		return nil, fmt.Errorf("%w: referredID=%d", ErrReferralExists, referredID)
	}

	if !link.ReferrerBonusDelivered {
		if err := s.deliverLinkBonus(ctx, link, link.ReferrerID, model.KindBonoReferidor, model.AwardReferrer, "referrer_bonus_delivered"); err != nil {
			return link, err
		}
		link.ReferrerBonusDelivered = true
	}
	if !link.ReferredBonusDelivered {
		if err := s.deliverLinkBonus(ctx, link, link.ReferredUserID, model.KindBonoReferido, model.AwardReferred, "referred_bonus_delivered"); err != nil {
			return link, err
		}
		link.ReferredBonusDelivered = true
	}
	return link, nil
}

// deliverLinkBonus 发放推荐奖励，奖励记录、标记和入账同一事务
func (s *ReferralService) deliverLinkBonus(ctx context.Context, link *model.ReferralLink, userID int64, kind model.CreditKind, awardType, column string) error {
	linkID := strconv.FormatInt(link.ID, 10)
	_, _, err := s.accrual.credit(ctx, &CreditRequest{
		UserID:        userID,
		Kind:          kind,
		ReferenceID:   linkID,
		ReferenceType: RefTypeReferralLink,
		Award:         &model.AwardKey{BonusType: awardType, Scope: linkID},
		afterWrite: func(ctx context.Context, tx *gorm.DB, _ *model.LedgerEntry) error {
			return s.referralRepo.MarkBonusDelivered(ctx, tx, link.ID, column)
		},
	})
	if err != nil {
		return fmt.Errorf("发放推荐奖励 %s 失败: %w", kind.Code(), err)
	}
	return nil
}

// MarkCreator 被推荐人成为创作者，给推荐人发放 BonoCreadorReferido
func (s *ReferralService) MarkCreator(ctx context.Context, referredID int64) (*model.LedgerEntry, error) {
	link, err := s.referralRepo.GetByReferred(ctx, nil, referredID)
	if err != nil {
		return nil, fmt.Errorf("查询推荐关系失败: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("%w: referredID=%d", ErrReferralNotFound, referredID)
	}
	if link.CreatorBonusDelivered {
		return nil, fmt.Errorf("%w: %s/%d", ErrDuplicateAward, model.AwardReferredCreator, link.ID)
	}

	linkID := strconv.FormatInt(link.ID, 10)
	entry, _, err := s.accrual.credit(ctx, &CreditRequest{
		UserID:        link.ReferrerID,
		Kind:          model.KindBonoCreadorReferido,
		ReferenceType: RefTypeCreator,
		Award:         &model.AwardKey{BonusType: model.AwardReferredCreator, Scope: linkID},
		afterWrite: func(ctx context.Context, tx *gorm.DB, _ *model.LedgerEntry) error {
			return s.referralRepo.MarkBonusDelivered(ctx, tx, link.ID, "creator_bonus_delivered")
		},
	})
	return entry, err
}

// OnCredit 被推荐人入账后计算返佣
//
// 返佣期已过：关闭返佣，不入账
// 推荐人达到奖励上限：记录日志，视为已处理
func (s *ReferralService) OnCredit(ctx context.Context, entry *model.LedgerEntry) error {
	if entry == nil || !entry.IsCredit() {
		return nil
	}
	kind, ok := model.ParseCreditKind(entry.Type)
	if !ok || !kind.Commissionable() {
		return nil
	}

	link, err := s.referralRepo.GetByReferred(ctx, nil, entry.UserID)
	if err != nil {
		return fmt.Errorf("查询推荐关系失败: %w", err)
	}
	if link == nil || !link.CommissionActive {
		return nil
	}

	now := s.clock()
	if !link.CommissionOpen(now) {
		closed, err := s.referralRepo.Deactivate(ctx, nil, link.ID)
		if err != nil {
			return fmt.Errorf("关闭返佣失败: %w", err)
		}
		if closed {
			s.log.Info("[Referral] 返佣期结束，已关闭返佣",
				zap.Int64("linkID", link.ID),
				zap.Int64("referrerID", link.ReferrerID),
				zap.String("totalCommission", link.TotalCommissionEarned.StringFixed(2)))
		}
		return nil
	}

	pct, err := s.configs.Get(ctx, model.KeyComisionReferidoPorcentaje)
	if err != nil {
		return err
	}
	commission := money.Percent(entry.Amount, pct)
	if !commission.IsPositive() {
		return nil
	}

	_, _, err = s.accrual.credit(ctx, &CreditRequest{
		UserID:        link.ReferrerID,
		Kind:          model.KindComisionReferido,
		Amount:        &commission,
		ReferenceID:   strconv.FormatInt(entry.ID, 10),
		ReferenceType: RefTypeLedgerEntry,
		afterWrite: func(ctx context.Context, tx *gorm.DB, credited *model.LedgerEntry) error {
			return s.referralRepo.AddCommission(ctx, tx, link.ID, credited.Amount)
		},
	})
	if isCapError(err) {
		s.log.Info("[Referral] 推荐人已达奖励上限，本次不返佣",
			zap.Int64("referrerID", link.ReferrerID),
			zap.Int64("sourceEntryID", entry.ID),
			zap.Error(err))
		return nil
	}
	return err
}

// HandleCommissionMessage 处理 outbox 中的返佣消息
func (s *ReferralService) HandleCommissionMessage(ctx context.Context, msg *model.OutboxMessage) error {
	var payload model.CommissionPayload
	if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
		return fmt.Errorf("解析返佣消息失败: %w", err)
	}
	entry, err := s.entryRepo.GetByID(ctx, nil, payload.EntryID)
	if err != nil {
		return err
	}
	return s.OnCredit(ctx, entry)
}

// ListReferrals 推荐人名下的推荐关系
func (s *ReferralService) ListReferrals(ctx context.Context, referrerID int64) ([]*model.ReferralLink, error) {
	return s.referralRepo.ListByReferrer(ctx, referrerID)
}

// DeactivateExpired 批量关闭返佣期已结束的推荐关系，过期任务调用
func (s *ReferralService) DeactivateExpired(ctx context.Context) (int64, error) {
	return s.referralRepo.DeactivateExpired(ctx, s.clock())
}
