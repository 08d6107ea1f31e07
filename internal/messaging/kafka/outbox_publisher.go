package kafka

import (
	"errors"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный topic.
// Тело сообщения — сохранённый payload (JSON OrderEvent), ключ — id заказа.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	dlq      bool
	source   string
}

// NewOutboxPublisher создаёт паблишер событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// NewDLQPublisher создаёт паблишер в dead letter topic. source — исходный topic событий.
func NewDLQPublisher(producer *Producer, source string) *OutboxTopicPublisher {
	if source == "" {
		source = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: TopicDeadLetterQueue, dlq: true, source: source}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := map[string]string{
		HeaderEventType: event.EventType,
		HeaderOutboxID:  event.ID,
	}
	if p.dlq {
		headers[HeaderOriginalTopic] = p.source
		headers[HeaderFailedAt] = time.Now().UTC().Format(time.RFC3339Nano)
		headers[HeaderRetryCount] = strconv.Itoa(event.Attempts)
	}
	return p.producer.Send(p.topic, key, event.Payload, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
