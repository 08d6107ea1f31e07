package idempotency

import (
	"context"
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

func testMetrics() CleanupOption {
	return WithMetrics(metrics.NewIdempotencyMetricsWithRegisterer(prometheus.NewRegistry()))
}

func TestDeleteExpiredRemovesOnlyExpiredKeysInBatches(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := repo.CreateProcessing(ctx, key, "hash-"+key, now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "fresh", "hash-fresh", now.Add(time.Hour))
	require.NoError(t, err)

	worker := NewCleanupWorker(repo, WithBatchSize(2), testMetrics())
	deleted, err := worker.DeleteExpired(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
	_, err = repo.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestDeleteExpiredStopsOnRepositoryError(t *testing.T) {
	repo := &failingRepo{IdempotencyRepository: memory.NewIdempotencyRepository(), err: errors.New("db down")}
	worker := NewCleanupWorker(repo, testMetrics())

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	assert.Error(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteExpiredHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewCleanupWorker(memory.NewIdempotencyRepository(), testMetrics())
	_, err := worker.DeleteExpired(ctx, time.Now().UTC())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCleansPeriodicallyUntilCancelled(t *testing.T) {
	repo := &failingRepo{IdempotencyRepository: memory.NewIdempotencyRepository()}
	worker := NewCleanupWorker(repo, WithInterval(5*time.Millisecond), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	require.Eventually(t, func() bool { return repo.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
}

type failingRepo struct {
	domain.IdempotencyRepository
	mu    sync.Mutex
	calls int
	err   error
}

func (r *failingRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	return r.IdempotencyRepository.DeleteExpired(ctx, before, limit)
}

func (r *failingRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
