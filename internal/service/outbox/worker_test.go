package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type recordingPublisher struct {
	mu        sync.Mutex
	failures  []error
	alwaysErr error
	published []domain.OutboxMessage
	calls     int
}

func (p *recordingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		if err != nil {
			return err
		}
	} else if p.alwaysErr != nil {
		return p.alwaysErr
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) snapshot() (int, []domain.OutboxMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, append([]domain.OutboxMessage(nil), p.published...)
}

func enqueue(t *testing.T, repo *memory.OutboxRepository, orderID, eventType string, createdAt time.Time) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
		CreatedAt:     createdAt,
	})
	require.NoError(t, err)
	return msg
}

func newTestWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	base := []Option{
		WithMetrics(metrics.NewOutboxMetricsWithRegisterer(prometheus.NewRegistry())),
		WithRetryBaseDelay(0),
	}
	return NewWorker(repo, publisher, append(base, opts...)...)
}

func TestWorkerPublishesInCreationOrder(t *testing.T) {
	repo := memory.NewOutboxRepository()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	second := enqueue(t, repo, "order-2", domain.EventOrderApproved, base.Add(time.Second))
	first := enqueue(t, repo, "order-1", domain.EventOrderCreated, base)

	publisher := &recordingPublisher{}
	sent := newTestWorker(repo, publisher).ProcessOnce(context.Background())

	assert.Equal(t, 2, sent)
	_, published := publisher.snapshot()
	require.Len(t, published, 2)
	assert.Equal(t, first.ID, published[0].ID)
	assert.Equal(t, second.ID, published[1].ID)
	assert.Empty(t, repo.AllPending())
}

func TestWorkerRetriesBeforeSuccess(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-3", domain.EventOrderRejected, time.Now().UTC())

	publisher := &recordingPublisher{failures: []error{errors.New("broker down"), errors.New("broker down")}}
	sent := newTestWorker(repo, publisher, WithMaxAttempts(3)).ProcessOnce(context.Background())

	calls, published := publisher.snapshot()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 3, calls)
	assert.Len(t, published, 1)
	assert.Empty(t, repo.AllPending())
}

func TestWorkerDeadLettersAfterExhaustedAttempts(t *testing.T) {
	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-4", domain.EventOrderCancelled, time.Now().UTC())

	publisher := &recordingPublisher{alwaysErr: errors.New("broker down")}
	dlq := &recordingPublisher{}
	worker := newTestWorker(repo, publisher, WithMaxAttempts(2), WithDLQPublisher(dlq))
	fixed := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return fixed }

	sent := worker.ProcessOnce(context.Background())

	assert.Zero(t, sent)
	calls, _ := publisher.snapshot()
	assert.Equal(t, 2, calls)
	assert.Empty(t, repo.AllPending(), "failed message must leave the pending backlog")

	_, dead := dlq.snapshot()
	require.Len(t, dead, 1)
	assert.Equal(t, msg.ID, dead[0].ID)
	assert.Equal(t, 2, dead[0].Attempts)

	var letter DeadLetter
	require.NoError(t, json.Unmarshal(dead[0].Payload, &letter))
	assert.Equal(t, "order-4", letter.AggregateID)
	assert.Equal(t, domain.EventOrderCancelled, letter.EventType)
	assert.Contains(t, letter.PublishError, "broker down")
	assert.JSONEq(t, `{"order_id":"order-4"}`, string(letter.Payload))
	assert.True(t, letter.FailedAt.Equal(fixed))
}

func TestWorkerKeepsMessagePendingWhenCancelledDuringBackoff(t *testing.T) {
	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-5", domain.EventOrderCreated, time.Now().UTC())

	publisher := &recordingPublisher{alwaysErr: errors.New("broker down")}
	worker := newTestWorker(repo, publisher, WithMaxAttempts(5), WithRetryBaseDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Zero(t, worker.ProcessOnce(ctx))
	assert.Len(t, repo.AllPending(), 1)
}

func TestRawPayloadDropsInvalidJSON(t *testing.T) {
	assert.Nil(t, rawPayload([]byte("not-json")))
	assert.Nil(t, rawPayload(nil))
	assert.Equal(t, json.RawMessage(`{"a":1}`), rawPayload([]byte(`{"a":1}`)))
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &recordingPublisher{}
	worker := newTestWorker(repo, publisher, WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	enqueue(t, repo, "order-6", domain.EventOrderCreated, time.Now().UTC())
	require.Eventually(t, func() bool {
		_, published := publisher.snapshot()
		return len(published) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
