package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/lock"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/pkg/idgen"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 引用类型
const (
	RefTypeLedgerEntry  = "ledger_entry"
	RefTypeReferralLink = "referral_link"
	RefTypeWelcome      = "welcome"
	RefTypeActivity     = "activity"
	RefTypeStreak       = "streak"
	RefTypeCreator      = "referral_creator"
)

// ledger 各账本服务共享的基础设施
//
// 【单用户写入流程】
//
//	获取用户锁 -> 开启事务 -> 读候选条目 -> 改 remaining/expired -> 写新条目 -> 写余额 -> 写 outbox -> 提交
//
// 四类写入要么一起提交，要么一起回滚；ExpirationRace / 版本冲突时整个事务用新读到的数据重做
type ledger struct {
	db      *gorm.DB
	locker  lock.UserLocker
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	configs     *ConfigService
	entryRepo   *repository.LedgerRepository
	balanceRepo *repository.BalanceRepository
	outboxRepo  *repository.OutboxRepository
}

func (l *ledger) clock() time.Time {
	return l.now().UTC()
}

// withUserLock 在用户锁内执行 fn
func (l *ledger) withUserLock(ctx context.Context, userID int64, fn func() error) error {
	release, err := l.locker.Acquire(ctx, userID, idgen.GenerateLockOwner())
	if err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return fmt.Errorf("%w: userID=%d", ErrConcurrentModification, userID)
		}
		return fmt.Errorf("获取用户锁失败: %w", err)
	}
	defer release()
	return fn()
}

func (l *ledger) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second

	attempts := l.cfg.Ledger.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// inTx 执行事务，可重试错误（过期竞争、版本冲突）会用新的读取整体重做
// fn 每次重试都会重新执行，不能依赖上一次执行留下的状态
func (l *ledger) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return backoff.Retry(func() error {
		err := l.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			l.metrics.Retries.WithLabelValues(op).Inc()
			l.log.Debug("[Ledger] 事务冲突，重试", zap.String("op", op), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, l.newBackOff(ctx))
}

// saveBalance 刷新即将过期余额并按版本号写回
func (l *ledger) saveBalance(ctx context.Context, tx *gorm.DB, balance *model.AccountBalance, now time.Time) error {
	soon := now.AddDate(0, 0, l.cfg.Ledger.ExpiringSoonDays)
	expiring, err := l.entryRepo.SumRemaining(ctx, tx, balance.UserID, &soon)
	if err != nil {
		return fmt.Errorf("统计即将过期余额失败: %w", err)
	}
	balance.ExpiringSoonBalance = expiring
	balance.LastUpdated = now

	if err := l.balanceRepo.Save(ctx, tx, balance); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			return fmt.Errorf("%w: userID=%d", ErrConcurrentModification, balance.UserID)
		}
		return fmt.Errorf("更新余额失败: %w", err)
	}
	return nil
}

func (l *ledger) newHead(userID int64, refID, refType string, now time.Time, before *model.AccountBalance) model.EntryHead {
	id := idgen.NextID()
	return model.EntryHead{
		ID:            id,
		EntryNo:       idgen.GenerateEntryNo(id),
		UserID:        userID,
		ReferenceID:   refID,
		ReferenceType: refType,
		Date:          now,
		BalanceBefore: before.AvailableBalance,
	}
}

// writeLedgerEvent 账本事件写入 outbox，由 OutboxSender 投递到 Kafka
func (l *ledger) writeLedgerEvent(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	payload, err := json.Marshal(model.NewLedgerEventPayload(entry))
	if err != nil {
		return err
	}
	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(entry.UserID, 10),
		Topic:      l.cfg.Kafka.Topic.LedgerEntry,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := l.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// observe 提交成功后记录指标
func (l *ledger) observe(entry *model.LedgerEntry) {
	l.metrics.Entries.WithLabelValues(string(entry.Direction), entry.Type).Inc()
	metrics.AddDecimal(l.metrics.Amount.WithLabelValues(string(entry.Direction)), entry.Amount)
	if entry.BurnedAmount.IsPositive() {
		metrics.AddDecimal(l.metrics.Burned, entry.BurnedAmount)
	}
}

func (l *ledger) countError(op string, err error) {
	l.metrics.Errors.WithLabelValues(op, errorReason(err)).Inc()
}
