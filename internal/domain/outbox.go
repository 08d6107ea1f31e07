package domain

import "time"

// DefaultOutboxBatch ограничивает выборку PullPending, если limit не задан.
const DefaultOutboxBatch = 100

// OutboxStatus — состояние сообщения в outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage — событие заказа, ожидающее публикации в брокер.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// WithDefaults назначает id и время создания, если они не заданы.
func (m OutboxMessage) WithDefaults(now time.Time, newID func() string) OutboxMessage {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

// OutboxStats — размер backlog и время самого старого неотправленного сообщения.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Lag возвращает возраст самого старого сообщения на момент now.
func (s OutboxStats) Lag(now time.Time) time.Duration {
	if s.PendingCount == 0 || s.OldestPendingAt.IsZero() {
		return 0
	}
	return now.Sub(s.OldestPendingAt)
}
