package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "order-123" {
			t.Errorf("unexpected key %s", key)
		}
		if got := header(msg, HeaderEventType); got != domain.EventOrderApproved {
			t.Errorf("unexpected event type header %q", got)
		}
		return nil
	})

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")
	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-123",
		EventType:     domain.EventOrderApproved,
		Payload:       []byte(`{"status":"approved"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_DLQHeaders(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicDeadLetterQueue {
			t.Errorf("unexpected topic %s", msg.Topic)
		}
		if got := header(msg, HeaderOriginalTopic); got != TopicOrderEvents {
			t.Errorf("unexpected original topic %q", got)
		}
		if got := header(msg, HeaderRetryCount); got != "3" {
			t.Errorf("unexpected retry count %q", got)
		}
		if header(msg, HeaderFailedAt) == "" {
			t.Error("failed-at header is missing")
		}
		return nil
	})

	publisher := NewDLQPublisher(NewProducerFromSync(mockProducer, nil), "")
	if publisher.Topic() != TopicDeadLetterQueue {
		t.Fatalf("unexpected dlq topic %s", publisher.Topic())
	}
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-2", AggregateID: "order-2", Attempts: 3}); err != nil {
		t.Fatalf("publish to dlq: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-3", AggregateID: "order-3"}); err == nil {
		t.Fatal("expected publish error, got nil")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	if err := publisher.Publish(domain.OutboxMessage{ID: "outbox-4"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
