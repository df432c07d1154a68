package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisherSendMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"entry_id":1}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisher(producer)
	require.NoError(t, p.SendMessage("ladocoin.ledger.entry", "42", `{"entry_id":1}`))
	assert.ErrorIs(t, p.SendMessage("ladocoin.ledger.entry", "42", `{"entry_id":2}`), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
