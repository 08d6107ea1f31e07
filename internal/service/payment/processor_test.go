package payment

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

func orderWithTotal(total string) domain.Order {
	return domain.Order{ID: "o-1", Status: domain.OrderStatusPending, TotalAmount: domain.MustMoney(total)}
}

func TestProcessorCharge(t *testing.T) {
	tests := []struct {
		name    string
		gateway domain.PaymentGateway
		total   string
		want    domain.PaymentOutcome
		calls   int
	}{
		{name: "approved", gateway: &MockGateway{Approve: true}, total: "10.00", want: domain.PaymentApproved, calls: 1},
		{name: "declined", gateway: &MockGateway{Approve: false}, total: "10.00", want: domain.PaymentRejected, calls: 1},
		{name: "gateway error", gateway: &MockGateway{Approve: true, Err: errors.New("timeout")}, total: "10.00", want: domain.PaymentRejected, calls: 1},
		{name: "gateway timeout with live context", gateway: &MockGateway{Err: context.DeadlineExceeded}, total: "10.00", want: domain.PaymentRejected, calls: 1},
		{name: "above payment limit", gateway: &MockGateway{Approve: true}, total: "100000.01", want: domain.PaymentRejected, calls: 0},
		{name: "at payment limit", gateway: &MockGateway{Approve: true}, total: "100000.00", want: domain.PaymentApproved, calls: 1},
		{name: "former gateway ceiling", gateway: &MockGateway{Approve: true}, total: "50000.01", want: domain.PaymentApproved, calls: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProcessor(tc.gateway, nil)
			if got := p.Charge(context.Background(), orderWithTotal(tc.total)); got != tc.want {
				t.Fatalf("Charge()=%s, want %s", got, tc.want)
			}
			if calls := tc.gateway.(*MockGateway).CallCount(); calls != tc.calls {
				t.Fatalf("expected %d gateway calls, got %d", tc.calls, calls)
			}
		})
	}
}

func TestProcessorChargeRecoversPanic(t *testing.T) {
	gw := domain.PaymentGatewayFunc(func(context.Context, string, domain.Money) (bool, error) {
		panic("gateway exploded")
	})
	p := NewProcessor(gw, nil)
	if got := p.Charge(context.Background(), orderWithTotal("1.00")); got != domain.PaymentRejected {
		t.Fatalf("panic must map to rejected, got %s", got)
	}
}

func TestProcessorLimitsAndFees(t *testing.T) {
	p := NewProcessor(NewMockGateway(), nil)
	cases := map[string]bool{"0.00": false, "0.01": true, "50000.01": true, "100000.00": true, "100000.01": false}
	for amount, want := range cases {
		if got := p.ValidateAmountLimits(domain.MustMoney(amount)); got != want {
			t.Fatalf("ValidateAmountLimits(%s)=%v, want %v", amount, got, want)
		}
	}
	if fee := p.CalculateFees(domain.MustMoney("123.45")); fee != 0 {
		t.Fatalf("expected zero fees, got %s", fee)
	}
}

func TestSimulatedGatewayApprovalRate(t *testing.T) {
	gw := NewSimulatedGateway(WithDelay(0), WithRand(rand.New(rand.NewSource(42))))
	approved := 0
	const n = 2000
	for i := 0; i < n; i++ {
		ok, err := gw.Authorize(context.Background(), "o", 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			approved++
		}
	}
	rate := float64(approved) / n
	if rate < 0.85 || rate > 0.95 {
		t.Fatalf("approval rate %.3f out of expected band", rate)
	}
}

func TestSimulatedGatewayExtremes(t *testing.T) {
	always := NewSimulatedGateway(WithDelay(0), WithApprovalRate(1))
	never := NewSimulatedGateway(WithDelay(0), WithApprovalRate(0))
	for i := 0; i < 20; i++ {
		if ok, _ := always.Authorize(context.Background(), "o", 1); !ok {
			t.Fatal("rate 1 must always approve")
		}
		if ok, _ := never.Authorize(context.Background(), "o", 1); ok {
			t.Fatal("rate 0 must never approve")
		}
	}
}

func TestSimulatedGatewayRespectsContext(t *testing.T) {
	gw := NewSimulatedGateway(WithDelay(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	ok, err := gw.Authorize(ctx, "o", 1)
	if ok || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v %v", ok, err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled authorize must return immediately")
	}

	p := NewProcessor(gw, nil)
	if got := p.Charge(ctx, orderWithTotal("1.00")); got != domain.PaymentInterrupted {
		t.Fatalf("cancelled charge must be interrupted, got %s", got)
	}
}

func TestProcessorChargeInterruptedByDeadline(t *testing.T) {
	p := NewProcessor(NewSimulatedGateway(WithDelay(time.Minute), WithApprovalRate(1)), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if got := p.Charge(ctx, orderWithTotal("1.00")); got != domain.PaymentInterrupted {
		t.Fatalf("expired deadline must interrupt charge, got %s", got)
	}
}

func TestProcessorChargeSkipsGatewayForCancelledContext(t *testing.T) {
	mock := NewMockGateway()
	p := NewProcessor(mock, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := p.Charge(ctx, orderWithTotal("1.00")); got != domain.PaymentInterrupted {
		t.Fatalf("expected interrupted, got %s", got)
	}
	if mock.CallCount() != 0 {
		t.Fatalf("cancelled charge must not reach gateway, calls=%d", mock.CallCount())
	}
}
