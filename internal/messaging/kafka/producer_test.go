package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func newMockProducer(t *testing.T) (*Producer, *mocks.SyncProducer) {
	t.Helper()
	mockProducer := mocks.NewSyncProducer(t, nil)
	return &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}, mockProducer
}

func TestProducer_PublishEvent(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"order_id":"order-1"}` {
			return errors.New("unexpected value: " + string(val))
		}
		return nil
	})

	event := map[string]string{"order_id": "order-1"}
	if err := producer.PublishEvent(context.Background(), TopicNotifications, "order-1", event, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendError(t *testing.T) {
	producer, mockProducer := newMockProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.Send(context.Background(), TopicNotifications, "order-1", []byte(`{}`), nil)
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendCancelledContext(t *testing.T) {
	producer, mockProducer := newMockProducer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.Send(ctx, TopicNotifications, "k", []byte(`{}`), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Ожиданий не было: ни одного сообщения не ушло.
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_NilProducer(t *testing.T) {
	var producer *Producer
	if err := producer.Send(context.Background(), TopicNotifications, "k", nil, nil); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("expected ErrProducerClosed, got %v", err)
	}
	if err := producer.Ping(context.Background()); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("expected ErrProducerClosed from ping, got %v", err)
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("close on nil producer must be a no-op: %v", err)
	}
}

func TestNewProducer_UnreachableBroker(t *testing.T) {
	if _, err := NewProducer([]string{"127.0.0.1:1"}); err == nil {
		t.Fatal("expected error for unreachable broker")
	}
}
