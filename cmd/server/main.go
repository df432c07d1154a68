package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/handler"
	"ladocoin/internal/infrastructure/cache"
	"ladocoin/internal/infrastructure/database"
	"ladocoin/internal/infrastructure/lock"
	"ladocoin/internal/infrastructure/logger"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/infrastructure/mq"
	"ladocoin/internal/job"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"
	"ladocoin/internal/service"
	"ladocoin/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)

	zlog, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	idgen.Init(cfg.Server.WorkerID)

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		zlog.Fatal("MySQL 连接失败", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zlog.Fatal("数据库迁移失败", zap.Error(err))
	}

	rdb, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		zlog.Fatal("Redis 连接失败", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var publisher mq.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			zlog.Fatal("Kafka 连接失败", zap.Error(err))
		}
		defer func() { _ = kafka.Close() }()
		publisher = kafka
	} else {
		zlog.Warn("未配置 Kafka，账本事件将留在 outbox 中")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	locker := lock.NewRedisUserLocker(
		rdb,
		time.Duration(cfg.Ledger.LockTTLSeconds)*time.Second,
		time.Duration(cfg.Ledger.LockRetryIntervalMs)*time.Millisecond,
		cfg.Ledger.LockMaxRetries,
	)
	locker.OnUnlockError(func(userID int64, err error) {
		zlog.Warn("[Lock] 释放用户锁失败", zap.Int64("userID", userID), zap.Error(err))
	})

	svc, err := service.NewServices(service.Deps{
		DB:      db,
		Redis:   rdb,
		Locker:  locker,
		Config:  cfg,
		Logger:  zlog,
		Metrics: m,
	})
	if err != nil {
		zlog.Fatal("初始化服务失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置缺失时拒绝启动
	seeded, err := svc.Config.SeedDefaults(ctx, cfg.Ledger.Defaults)
	if err != nil {
		zlog.Fatal("写入默认配置失败", zap.Error(err))
	}
	if err := svc.Config.Require(ctx, model.RequiredConfigKeys); err != nil {
		zlog.Fatal("配置不完整", zap.Error(err))
	}
	zlog.Info("配置检查通过", zap.Int("seeded", seeded))

	outboxSender := job.NewOutboxSender(db, cfg, publisher, zlog, m)
	outboxSender.Handle(cfg.Kafka.Topic.Commission, svc.Referral.HandleCommissionMessage)
	go outboxSender.Start(ctx)

	sweeper := job.NewExpirationSweeper(
		svc.Expiration,
		svc.Referral,
		repository.NewCheckpointRepository(db),
		cfg.Sweeper,
		zlog,
		m,
	)
	if err := sweeper.Start(ctx); err != nil {
		zlog.Fatal("启动过期任务失败", zap.Error(err))
	}

	h := handler.NewHandler(svc, sweeper, outboxSender, zlog)
	router := handler.SetupRouter(h, cfg, reg, zlog)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务...")

	cancel()
	sweeper.Stop()
	outboxSender.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("服务关闭异常", zap.Error(err))
	}

	zlog.Info("服务已关闭")
}
