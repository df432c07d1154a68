package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"ladocoin/internal/infrastructure/mq"
	"ladocoin/internal/model"
	"ladocoin/internal/repository"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSender(env *testEnv, publisher mq.Publisher) *OutboxSender {
	s := NewOutboxSender(env.db, env.cfg, publisher, zap.NewNop(), env.metrics)
	// 跳过宽限期
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	return s
}

func outboxStatus(t *testing.T, env *testEnv, topic string) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, env.db.Where("topic = ?", topic).Order("id ASC").Find(&msgs).Error)
	return msgs
}

func TestOutboxSenderPublishesLedgerEvents(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")
	env.grant(t, 2, "5")

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	s := newSender(env, mq.NewKafkaPublisher(producer))

	assert.Equal(t, 2, s.ProcessOnce(context.Background()))
	for _, msg := range outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry) {
		assert.Equal(t, model.OutboxStatusSent, msg.Status)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.OutboxSent.WithLabelValues(env.cfg.Kafka.Topic.LedgerEntry, "sent")))

	// 已投递的不会再发
	assert.Zero(t, s.ProcessOnce(context.Background()))
	require.NoError(t, producer.Close())
}

func TestOutboxSenderRespectsGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")

	s := NewOutboxSender(env.db, env.cfg, nil, zap.NewNop(), env.metrics)
	assert.Zero(t, s.ProcessOnce(context.Background()))
	msgs := outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Zero(t, msgs[0].RetryCount)
}

func TestOutboxSenderMarksFailedAndRequeues(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Business.MaxRetryCount = 2
	env.grant(t, 1, "10")

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	producer.ExpectSendMessageAndSucceed()
	s := newSender(env, mq.NewKafkaPublisher(producer))
	ctx := context.Background()

	assert.Zero(t, s.ProcessOnce(ctx))
	msgs := outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Contains(t, msgs[0].LastError, sarama.ErrOutOfBrokers.Error())

	assert.Zero(t, s.ProcessOnce(ctx))
	msgs = outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry)
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)

	// FAILED 不再被自动投递
	assert.Zero(t, s.ProcessOnce(ctx))

	n, err := s.RequeueFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.ProcessOnce(ctx))
	msgs = outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry)
	assert.Equal(t, model.OutboxStatusSent, msgs[0].Status)
	require.NoError(t, producer.Close())
}

func TestOutboxSenderDispatchesToLocalHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	topic := env.cfg.Kafka.Topic.Commission
	repo := repository.NewOutboxRepository(env.db)
	require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{MessageKey: "1", Topic: topic, Payload: `{"entry_id":1,"user_id":2}`}))
	require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{MessageKey: "2", Topic: topic, Payload: `{"entry_id":2,"user_id":2}`}))

	var handled []string
	s := newSender(env, nil)
	s.Handle(topic, func(ctx context.Context, msg *model.OutboxMessage) error {
		handled = append(handled, msg.MessageKey)
		if msg.MessageKey == "2" {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, 1, s.ProcessOnce(ctx))
	assert.Equal(t, []string{"1", "2"}, handled)

	msgs := outboxStatus(t, env, topic)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.OutboxStatusSent, msgs[0].Status)
	assert.Equal(t, model.OutboxStatusPending, msgs[1].Status)
	assert.Equal(t, "boom", msgs[1].LastError)
}

func TestOutboxSenderWithoutPublisher(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, 1, "10")
	s := newSender(env, nil)

	assert.Zero(t, s.ProcessOnce(context.Background()))
	msgs := outboxStatus(t, env, env.cfg.Kafka.Topic.LedgerEntry)
	require.Len(t, msgs, 1)
	assert.Equal(t, mq.ErrNoPublisher.Error(), msgs[0].LastError)
}

func TestOutboxSenderStartStop(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Business.OutboxIntervalMs = 10
	s := newSender(env, nil)

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	s.Stop()
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender did not stop")
	}
}
