package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func TestBreakerGatewayOpensAndRecovers(t *testing.T) {
	mock := &MockGateway{Approve: true, Err: errors.New("unavailable")}
	b := NewBreakerGateway(mock, 2, time.Minute, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Authorize(ctx, "o", 1); err == nil {
			t.Fatal("expected gateway error")
		}
	}
	if b.State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %s", b.State())
	}

	if _, err := b.Authorize(ctx, "o", 1); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("open breaker must not call gateway, calls=%d", mock.CallCount())
	}

	now = now.Add(2 * time.Minute)
	mock.mu.Lock()
	mock.Err = nil
	mock.mu.Unlock()

	ok, err := b.Authorize(ctx, "o", 1)
	if err != nil || !ok {
		t.Fatalf("half-open trial call must pass, got %v %v", ok, err)
	}
	if b.State() != CircuitClosed {
		t.Fatalf("expected closed breaker, got %s", b.State())
	}
}

func TestBreakerGatewayDeclineIsNotFailure(t *testing.T) {
	b := NewBreakerGateway(&MockGateway{Approve: false}, 1, time.Minute, nil)
	for i := 0; i < 5; i++ {
		if ok, err := b.Authorize(context.Background(), "o", 1); ok || err != nil {
			t.Fatalf("expected plain decline, got %v %v", ok, err)
		}
	}
	if b.State() != CircuitClosed {
		t.Fatalf("declines must not open breaker, got %s", b.State())
	}
}

func TestProcessorWithOpenBreakerRejects(t *testing.T) {
	b := NewBreakerGateway(&MockGateway{Err: errors.New("down")}, 1, time.Hour, nil)
	p := NewProcessor(b, nil)
	order := orderWithTotal("5.00")

	if got := p.Charge(context.Background(), order); got != domain.PaymentRejected {
		t.Fatalf("expected rejection, got %s", got)
	}
	if got := p.Charge(context.Background(), order); got != domain.PaymentRejected {
		t.Fatalf("expected rejection from open breaker, got %s", got)
	}
}

func TestBreakerGatewayIgnoresCallerCancellation(t *testing.T) {
	slow := NewSimulatedGateway(WithDelay(time.Minute), WithApprovalRate(1))
	b := NewBreakerGateway(slow, 2, time.Hour, nil)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		_, err := b.Authorize(ctx, "o", 1)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline error, got %v", err)
		}
	}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		if _, err := b.Authorize(cancelled, "o", 1); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	}
	if b.State() != CircuitClosed {
		t.Fatalf("caller cancellation must not open breaker, got %s", b.State())
	}

	b.next = &MockGateway{Approve: true}
	if ok, err := b.Authorize(context.Background(), "o", 1); !ok || err != nil {
		t.Fatalf("unrelated payment must pass, got %v %v", ok, err)
	}
}

func TestBreakerGatewayCancellationKeepsFailureCount(t *testing.T) {
	mock := &MockGateway{Err: errors.New("down")}
	b := NewBreakerGateway(mock, 2, time.Hour, nil)
	ctx := context.Background()

	if _, err := b.Authorize(ctx, "o", 1); err == nil {
		t.Fatal("expected gateway error")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _ = b.Authorize(cancelled, "o", 1)
	if b.State() != CircuitClosed {
		t.Fatalf("one real failure must keep breaker closed, got %s", b.State())
	}

	// Внутренний таймаут шлюза при живом ctx остаётся сбоем.
	b.next = &MockGateway{Err: context.DeadlineExceeded}
	_, _ = b.Authorize(ctx, "o", 1)
	if b.State() != CircuitOpen {
		t.Fatalf("second real failure must open breaker, got %s", b.State())
	}
}
