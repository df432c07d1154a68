package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SweepReport 一次扫描的结果
type SweepReport struct {
	Name        string          `json:"name"`
	Full        bool            `json:"full"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Scanned     int             `json:"scanned"`
	Expired     int             `json:"expired"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	Amount      decimal.Decimal `json:"amount"`
	Deactivated int64           `json:"deactivated_referrals"`
	Checkpoint  time.Time       `json:"checkpoint"`
}

// ExpirationSweeper 定时过期到期入账条目
//
// 按 (expiration_date, id) 顺序分批扫描，断点记录在 sweep_checkpoint 表
// 多实例部署时通过 user_id_min / user_id_max 切分用户区间，每个区间一个断点
type ExpirationSweeper struct {
	expiration  *service.ExpirationService
	referral    *service.ReferralService
	checkpoints *repository.CheckpointRepository
	cfg         config.SweeperConfig
	log         *zap.Logger
	metrics     *metrics.Metrics

	mu   sync.Mutex // 同一实例内串行执行
	cron *cron.Cron
}

func NewExpirationSweeper(
	expiration *service.ExpirationService,
	referral *service.ReferralService,
	checkpoints *repository.CheckpointRepository,
	cfg config.SweeperConfig,
	log *zap.Logger,
	m *metrics.Metrics,
) *ExpirationSweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	return &ExpirationSweeper{
		expiration:  expiration,
		referral:    referral,
		checkpoints: checkpoints,
		cfg:         cfg,
		log:         log,
		metrics:     m,
	}
}

// Name 断点名称，区分不同的用户区间
func (s *ExpirationSweeper) Name() string {
	if s.cfg.UserIDMin == 0 && s.cfg.UserIDMax == 0 {
		return "expiration:all"
	}
	return fmt.Sprintf("expiration:%d-%d", s.cfg.UserIDMin, s.cfg.UserIDMax)
}

// Start 按 cron 表达式注册定时任务
func (s *ExpirationSweeper) Start(ctx context.Context) error {
	logger := cronLogger{s.log.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err := c.AddFunc(s.cfg.Cron, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Error("[Sweeper] 过期扫描失败", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("注册过期任务失败: %w", err)
	}
	s.cron = c
	c.Start()
	s.log.Info("[Sweeper] 过期任务启动", zap.String("cron", s.cfg.Cron), zap.String("name", s.Name()))
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *ExpirationSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("[Sweeper] 过期任务停止")
}

// RunOnce 从断点继续扫描
func (s *ExpirationSweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	return s.run(ctx, false)
}

// RunFull 忽略断点全量扫描，用于修复断点之前遗漏的条目
func (s *ExpirationSweeper) RunFull(ctx context.Context) (*SweepReport, error) {
	return s.run(ctx, true)
}

func (s *ExpirationSweeper) run(ctx context.Context, full bool) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	defer func() { s.metrics.SweepDuration.Observe(time.Since(started).Seconds()) }()

	now := s.expiration.Now()
	report := &SweepReport{Name: s.Name(), Full: full, StartedAt: now, Amount: decimal.Zero}

	var from time.Time
	cp, err := s.checkpoints.Get(ctx, report.Name)
	if err != nil {
		return nil, fmt.Errorf("读取断点失败: %w", err)
	}
	if cp != nil && !full {
		from = cp.LastExpiration
	}

	var (
		exclude      []int64
		earliestFail *time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		entries, err := s.expiration.ListOverdue(ctx, repository.OverdueQuery{
			Now:        now,
			From:       from,
			UserIDMin:  s.cfg.UserIDMin,
			UserIDMax:  s.cfg.UserIDMax,
			ExcludeIDs: exclude,
			Limit:      s.cfg.BatchSize,
		})
		if err != nil {
			return report, fmt.Errorf("扫描到期条目失败: %w", err)
		}
		if len(entries) == 0 {
			break
		}
		report.Scanned += len(entries)

		progress := false
		users, byUser := groupByUser(entries)
		for _, userID := range users {
			group := byUser[userID]
			ids := make([]int64, len(group))
			for i, e := range group {
				ids[i] = e.ID
			}

			res, err := s.expiration.ExpireEntries(ctx, userID, ids)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				// 拿不到锁等整体失败，这一组条目都留到下一轮
				s.log.Warn("[Sweeper] 用户条目过期失败", zap.Int64("userID", userID), zap.Error(err))
				res = &service.ExpireResult{Failed: make(map[int64]error)}
				for _, id := range ids {
					res.Failed[id] = err
				}
			}
			if res.Expired > 0 {
				progress = true
				report.Expired += res.Expired
				report.Amount = report.Amount.Add(res.Amount)
			}
			report.Skipped += res.Skipped
			for _, e := range group {
				if _, failed := res.Failed[e.ID]; !failed {
					continue
				}
				report.Failed++
				exclude = append(exclude, e.ID)
				if e.ExpirationDate != nil && (earliestFail == nil || e.ExpirationDate.Before(*earliestFail)) {
					t := *e.ExpirationDate
					earliestFail = &t
				}
			}
		}

		if !progress {
			for _, e := range entries {
				exclude = appendMissing(exclude, e.ID)
			}
		}
		if len(entries) < s.cfg.BatchSize {
			break
		}
	}

	// 有失败的条目时断点停在最早失败的过期时间，下次从那里重扫
	report.Checkpoint = now
	if earliestFail != nil {
		report.Checkpoint = *earliestFail
	}
	processed := int64(report.Expired)
	if cp != nil {
		processed += cp.Processed
	}
	if err := s.checkpoints.Save(ctx, &model.SweepCheckpoint{
		Name:           report.Name,
		LastExpiration: report.Checkpoint,
		Processed:      processed,
	}); err != nil {
		return report, fmt.Errorf("保存断点失败: %w", err)
	}

	if s.referral != nil {
		n, err := s.referral.DeactivateExpired(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("[Sweeper] 关闭过期返佣失败", zap.Error(err))
		}
		report.Deactivated = n
	}

	report.FinishedAt = s.expiration.Now()
	s.log.Info("[Sweeper] 过期扫描完成",
		zap.String("name", report.Name),
		zap.Bool("full", full),
		zap.Int("scanned", report.Scanned),
		zap.Int("expired", report.Expired),
		zap.Int("failed", report.Failed),
		zap.String("amount", report.Amount.StringFixed(2)),
		zap.Int64("deactivated", report.Deactivated),
		zap.Duration("cost", time.Since(started)))
	return report, nil
}

func groupByUser(entries []*model.LedgerEntry) ([]int64, map[int64][]*model.LedgerEntry) {
	var order []int64
	byUser := make(map[int64][]*model.LedgerEntry)
	for _, e := range entries {
		if _, ok := byUser[e.UserID]; !ok {
			order = append(order, e.UserID)
		}
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}
	return order, byUser
}

func appendMissing(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

// cronLogger 把 cron 的日志转给 zap
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("[Cron] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("[Cron] "+msg, append(keysAndValues, "error", err)...)
}
