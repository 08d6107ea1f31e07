package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type outboxEntry struct {
	msg    domain.OutboxMessage
	status domain.OutboxStatus
	seq    uint64
}

// OutboxRepository держит outbox в памяти. Порядок выдачи: created_at, затем порядок вставки.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	seq     uint64
}

// NewOutboxRepository создаёт пустой in-memory outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry)}
}

// Enqueue кладёт сообщение в статусе pending. Повторный id заменяет прежнее сообщение.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	msg = msg.WithDefaults(time.Now().UTC(), uuid.NewString)
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.entries[msg.ID] = &outboxEntry{msg: msg, status: domain.OutboxStatusPending, seq: r.seq}
	return msg, nil
}

// PullPending отдаёт до limit самых старых pending-сообщений без смены статуса.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = domain.DefaultOutboxBatch
	}
	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	if len(pending) == 0 {
		return domain.OutboxStats{}, nil
	}
	return domain.OutboxStats{PendingCount: len(pending), OldestPendingAt: pending[0].CreatedAt}, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.transition(id, domain.OutboxStatusFailed)
}

// AllPending возвращает все pending-сообщения.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending()
}

// Status возвращает статус сообщения и признак его наличия.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

func (r *OutboxRepository) transition(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	e.status = status
	e.msg.Attempts++
	return nil
}

func (r *OutboxRepository) pending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status == domain.OutboxStatusPending {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]domain.OutboxMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
