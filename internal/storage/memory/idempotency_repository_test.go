package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestIdempotencyRepository_ReserveAndGet(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)

	created, err := repo.CreateProcessing(ctx, "  key-1 ", "hash-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "key-1", created.Key)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	assert.Equal(t, clock.now.Add(domain.DefaultIdempotencyTTL), created.TTLAt)

	got, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = repo.CreateProcessing(ctx, "", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "key-2", " ", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ReuseOfLiveKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "key", "hash-a", ttl)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, "key", "hash-a", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, "hash-a", existing.RequestHash)

	_, err = repo.CreateProcessing(ctx, "key", "hash-b", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_ExpiredKeyIsReclaimed(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := memory.NewIdempotencyRepositoryWithClock(clock.Now)

	_, err := repo.CreateProcessing(ctx, "key", "hash-a", clock.now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone(ctx, "key", []byte(`{"id":"order-1"}`), 0))

	clock.now = clock.now.Add(2 * time.Minute)
	reclaimed, err := repo.CreateProcessing(ctx, "key", "hash-b", clock.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "hash-b", reclaimed.RequestHash)
	assert.Equal(t, domain.IdempotencyStatusProcessing, reclaimed.Status)
	assert.Empty(t, reclaimed.ResponseBody)
}

func TestIdempotencyRepository_FinishStoresResponse(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "done", "h1", ttl)
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "failed", "h2", ttl)
	require.NoError(t, err)

	body := []byte(`{"id":"order-1"}`)
	require.NoError(t, repo.MarkDone(ctx, "done", body, 0))
	require.NoError(t, repo.MarkFailed(ctx, "failed", []byte(`{"message":"boom"}`), 5))
	body[0] = 'X'

	done, err := repo.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, done.Status)
	assert.JSONEq(t, `{"id":"order-1"}`, string(done.ResponseBody))

	failed, err := repo.Get(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, failed.Status)
	assert.Equal(t, 5, failed.StatusCode)

	assert.ErrorIs(t, repo.MarkDone(ctx, "missing", nil, 0), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := memory.NewIdempotencyRepositoryWithClock(func() time.Time { return now.Add(-time.Hour) })

	for i, key := range []string{"old-3", "old-1", "old-2"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Duration(3-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "live", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = repo.Get(ctx, "old-3")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(ctx, "old-1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, "live")
	assert.NoError(t, err)
}
