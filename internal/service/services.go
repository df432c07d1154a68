package service

import (
	"fmt"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/lock"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 服务依赖
type Deps struct {
	DB      *gorm.DB
	Redis   *redis.Client // 配置缓存，可为 nil
	Locker  lock.UserLocker
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time // 为 nil 时使用 time.Now
}

// Services 账本引擎全部服务
type Services struct {
	Config     *ConfigService
	Accrual    *AccrualService
	Spend      *SpendService
	Expiration *ExpirationService
	Balance    *BalanceService
	Referral   *ReferralService
	Streak     *StreakService
}

// NewServices 组装服务
func NewServices(d Deps) (*Services, error) {
	if d.DB == nil || d.Locker == nil || d.Config == nil || d.Logger == nil || d.Metrics == nil {
		return nil, fmt.Errorf("服务依赖不完整")
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	loc, err := time.LoadLocation(d.Config.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %q 失败: %w", d.Config.Ledger.Timezone, err)
	}

	configs := NewConfigService(
		repository.NewConfigRepository(d.DB),
		d.Redis,
		time.Duration(d.Config.Ledger.ConfigCacheSeconds)*time.Second,
		d.Logger,
	)
	l := &ledger{
		db:          d.DB,
		locker:      d.Locker,
		cfg:         d.Config,
		log:         d.Logger,
		metrics:     d.Metrics,
		now:         now,
		configs:     configs,
		entryRepo:   repository.NewLedgerRepository(d.DB),
		balanceRepo: repository.NewBalanceRepository(d.DB),
		outboxRepo:  repository.NewOutboxRepository(d.DB),
	}

	referralRepo := repository.NewReferralRepository(d.DB)
	accrual := NewAccrualService(l, repository.NewAwardRepository(d.DB), referralRepo)
	referral := NewReferralService(l, referralRepo, accrual)
	accrual.SetCommissionHandler(referral)
	expiration := NewExpirationService(l)

	return &Services{
		Config:     configs,
		Accrual:    accrual,
		Spend:      NewSpendService(l, expiration),
		Expiration: expiration,
		Balance:    NewBalanceService(l),
		Referral:   referral,
		Streak:     NewStreakService(l, repository.NewStreakRepository(d.DB), accrual, loc),
	}, nil
}
