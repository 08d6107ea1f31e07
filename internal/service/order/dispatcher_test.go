package order

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type fakeRunner struct {
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	handled []string
}

func (f *fakeRunner) ProcessPayment(ctx context.Context, orderID string) (domain.Order, error) {
	cur := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}

	f.mu.Lock()
	f.handled = append(f.handled, orderID)
	f.mu.Unlock()

	if orderID == "bad" {
		return domain.Order{}, errors.New("boom")
	}
	return domain.Order{ID: orderID, Status: domain.OrderStatusApproved}, nil
}

func TestDispatcher_ProcessBatchKeepsOrder(t *testing.T) {
	runner := &fakeRunner{delay: 5 * time.Millisecond}
	d := NewDispatcher(runner, 2, nil)

	results := d.ProcessBatch(context.Background(), []string{"o1", "bad", "o3", "o4"})
	require.NoError(t, d.Shutdown(context.Background()))

	require.Len(t, results, 4)
	require.Equal(t, "o1", results[0].OrderID)
	require.Equal(t, "o1", results[0].Order.ID)
	require.Error(t, results[1].Err)
	require.Equal(t, "o4", results[3].Order.ID)
	require.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestDispatcher_ParallelismHidesLatency(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	d := NewDispatcher(runner, 8, nil)

	started := time.Now()
	results := d.ProcessBatch(context.Background(), []string{"a", "b", "c", "d", "e", "f", "g", "h"})
	elapsed := time.Since(started)

	for _, res := range results {
		require.NoError(t, res.Err)
	}
	require.Less(t, elapsed, 300*time.Millisecond, "payments must run concurrently")
}

func TestDispatcher_SubmitAfterShutdown(t *testing.T) {
	d := NewDispatcher(&fakeRunner{}, 1, nil)
	require.NoError(t, d.Shutdown(context.Background()))

	res := <-d.SubmitPayment(context.Background(), "o1")
	require.ErrorIs(t, res.Err, ErrDispatcherClosed)
}

func TestDispatcher_ShutdownWaitsForInflight(t *testing.T) {
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	d := NewDispatcher(runner, 1, nil)

	ch := d.SubmitPayment(context.Background(), "o1")
	require.NoError(t, d.Shutdown(context.Background()))

	runner.mu.Lock()
	handled := len(runner.handled)
	runner.mu.Unlock()
	require.Equal(t, 1, handled)
	require.NoError(t, (<-ch).Err)
}

func TestDispatcher_ShutdownHonoursContext(t *testing.T) {
	runner := &fakeRunner{delay: time.Second}
	d := NewDispatcher(runner, 1, nil)

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	ch := d.SubmitPayment(runCtx, "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	cancelRun()
	require.ErrorIs(t, (<-ch).Err, context.Canceled)
}

func TestDispatcher_ProcessPaymentWaitsForResult(t *testing.T) {
	runner := &fakeRunner{delay: time.Millisecond}
	d := NewDispatcher(runner, 1, nil)

	order, err := d.ProcessPayment(context.Background(), "o1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusApproved, order.Status)

	_, err = d.ProcessPayment(context.Background(), "bad")
	require.EqualError(t, err, "boom")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	slow := NewDispatcher(&fakeRunner{delay: time.Second}, 1, nil)
	_, err = slow.ProcessPayment(ctx, "o2")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, d.Shutdown(context.Background()))
}
