package job

import (
	"context"
	"sync"
	"time"

	"ladocoin/internal/config"
	"ladocoin/internal/infrastructure/metrics"
	"ladocoin/internal/infrastructure/mq"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MessageHandler 在本地处理某个 topic 的消息
type MessageHandler func(ctx context.Context, msg *model.OutboxMessage) error

// OutboxSender 投递 outbox 消息
//
// 注册了本地处理器的 topic（返佣）交给处理器，其余 topic 发往 Kafka
// 失败累加重试次数，超过 MaxRetryCount 标记为 FAILED，等待人工 Requeue
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	handlers   map[string]MessageHandler
	cfg        *config.Config
	log        *zap.Logger
	metrics    *metrics.Metrics
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	grace      time.Duration
	batchSize  int
	now        func() time.Time
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher mq.Publisher, log *zap.Logger, m *metrics.Metrics) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		handlers:   make(map[string]MessageHandler),
		cfg:        cfg,
		log:        log,
		metrics:    m,
		stopCh:     make(chan struct{}),
		interval:   time.Duration(cfg.Business.OutboxIntervalMs) * time.Millisecond,
		grace:      time.Duration(cfg.Business.OutboxGraceSeconds) * time.Second,
		batchSize:  cfg.Business.OutboxBatchSize,
		now:        time.Now,
	}
}

// Handle 注册本地处理器
func (s *OutboxSender) Handle(topic string, h MessageHandler) {
	s.handlers[topic] = h
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("[OutboxSender] 消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.ProcessOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ProcessOnce 处理一批待投递消息，返回成功条数
func (s *OutboxSender) ProcessOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.now().UTC().Add(-s.grace), s.batchSize)
	if err != nil {
		s.log.Error("[OutboxSender] 查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) dispatch(ctx context.Context, msg *model.OutboxMessage) error {
	if h, ok := s.handlers[msg.Topic]; ok {
		return h(ctx, msg)
	}
	if s.publisher == nil {
		return mq.ErrNoPublisher
	}
	return s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.dispatch(ctx, msg)

	if err == nil {
		s.metrics.OutboxSent.WithLabelValues(msg.Topic, "sent").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.log.Error("[OutboxSender] 更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		} else {
			s.log.Debug("[OutboxSender] 消息发送成功",
				zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.String("key", msg.MessageKey))
		}
		return true
	}

	s.metrics.OutboxSent.WithLabelValues(msg.Topic, "error").Inc()
	s.log.Warn("[OutboxSender] 消息发送失败", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID, err.Error()); err != nil {
		s.log.Error("[OutboxSender] 增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error("[OutboxSender] 标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			s.metrics.OutboxSent.WithLabelValues(msg.Topic, "failed").Inc()
			s.log.Error("[OutboxSender] 消息超过最大重试次数，标记为失败", zap.Int64("id", msg.ID))
		}
	}
	return false
}

// RequeueFailed 将 FAILED 消息重新置为待投递，返回处理条数
func (s *OutboxSender) RequeueFailed(ctx context.Context, limit int) (int, error) {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, msg := range messages {
		if err := s.outboxRepo.Requeue(ctx, msg.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("[OutboxSender] 失败消息已重新入队", zap.Int("count", n))
	}
	return n, nil
}
