package order

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

// emitEvent пишет событие в timeline и outbox. Ошибки только логируются:
// основная операция к этому моменту уже сохранена.
func (s *Service) emitEvent(ctx context.Context, order domain.Order, eventType, reason string) {
	occurred := order.UpdatedAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	entry := s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	})

	if s.timeline != nil {
		if err := s.timeline.Append(ctx, domain.NewTimelineEvent(order, eventType, reason, occurred)); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else if s.metrics != nil {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(kafka.NewOrderEvent(kafka.EventTypeFor(eventType), order, reason, occurred))
	if err != nil {
		entry.WithError(err).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     occurred,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		entry.WithError(err).Error("enqueue event failed")
	} else if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

// recordStockCommitted оставляет в timeline след списания остатка, когда одобрение
// не удалось сохранить. Запись идёт без отмены ctx: вызывающий мог уже уйти.
func (s *Service) recordStockCommitted(ctx context.Context, order domain.Order, cause error) {
	if s.timeline == nil {
		return
	}
	event := domain.NewTimelineEvent(order, domain.EventStockCommitted, "approval not persisted: "+cause.Error(), s.now())
	if err := s.timeline.Append(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("append stock committed event failed")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}
