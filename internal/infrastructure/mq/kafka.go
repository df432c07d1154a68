package mq

import (
	"errors"

	"ladocoin/internal/config"

	"github.com/IBM/sarama"
)

// ErrNoPublisher 未配置消息发布者
var ErrNoPublisher = errors.New("未配置消息发布者")

// Publisher 消息发布
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// KafkaPublisher 基于 sarama 同步生产者
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewProducerConfig 生产者配置：等待所有副本确认 + 幂等写入
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	// 按用户ID做 key，同一用户的事件落在同一分区，保证消费端看到的顺序与账本一致
	kafkaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	return kafkaConfig
}

// InitKafka 创建 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisher(producer), nil
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// SendMessage 发送消息到 Kafka
func (p *KafkaPublisher) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
