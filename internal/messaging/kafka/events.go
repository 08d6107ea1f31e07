package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderApproved  EventType = "order.approved"
	EventTypeOrderRejected  EventType = "order.rejected"
	EventTypeOrderCancelled EventType = "order.cancelled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicDeadLetterQueue = "shop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderOutboxID      = "x-outbox-id"
)

// OrderEvent — тело события заказа в outbox и Kafka.
type OrderEvent struct {
	EventType   EventType `json:"event_type"`
	OrderID     string    `json:"order_id"`
	CustomerID  string    `json:"customer_id"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"total_amount"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Lines       []Line    `json:"lines,omitempty"`
}

// Line — позиция заказа в событии.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// EventTypeFor сопоставляет доменное событие таймлайна с типом Kafka-события.
func EventTypeFor(timelineType string) EventType {
	switch timelineType {
	case domain.EventOrderApproved:
		return EventTypeOrderApproved
	case domain.EventOrderRejected:
		return EventTypeOrderRejected
	case domain.EventOrderCancelled:
		return EventTypeOrderCancelled
	default:
		return EventTypeOrderCreated
	}
}

// NewOrderEvent собирает событие по состоянию заказа.
func NewOrderEvent(eventType EventType, order domain.Order, reason string, ts time.Time) *OrderEvent {
	event := &OrderEvent{
		EventType:   eventType,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount.String(),
		Reason:      reason,
		Timestamp:   ts,
	}
	if eventType == EventTypeOrderCreated {
		event.Lines = make([]Line, 0, len(order.Lines))
		for _, line := range order.Lines {
			event.Lines = append(event.Lines, Line{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice.String(),
			})
		}
	}
	return event
}
