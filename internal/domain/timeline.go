package domain

import (
	"errors"
	"time"
)

// Типы событий таймлайна и outbox.
const (
	EventOrderCreated   = "OrderCreated"
	EventOrderApproved  = "OrderApproved"
	EventOrderRejected  = "OrderRejected"
	EventOrderCancelled = "OrderCancelled"
	// EventStockCommitted пишется только в timeline: остаток списан, одобрение не сохранено.
	EventStockCommitted = "StockCommitted"
)

var errTimelineOrderRequired = errors.New("timeline event: order id is required")

// TimelineEvent — запись истории заказа. Status фиксирует статус заказа после события.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Status   OrderStatus
	Reason   string
	Occurred time.Time
}

// NewTimelineEvent строит событие по сохранённому заказу.
func NewTimelineEvent(order Order, eventType, reason string, occurred time.Time) TimelineEvent {
	return TimelineEvent{
		OrderID:  order.ID,
		Type:     eventType,
		Status:   order.Status,
		Reason:   reason,
		Occurred: occurred.UTC(),
	}
}

// Normalize проверяет обязательные поля и подставляет время записи, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if e.OrderID == "" {
		return TimelineEvent{}, errTimelineOrderRequired
	}
	if !knownEventType(e.Type) {
		return TimelineEvent{}, Validation("type", e.Type, "unknown timeline event type")
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}

func knownEventType(t string) bool {
	switch t {
	case EventOrderCreated, EventOrderApproved, EventOrderRejected, EventOrderCancelled, EventStockCommitted:
		return true
	}
	return false
}
