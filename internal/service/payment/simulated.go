package payment

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	// DefaultDelay — искусственная задержка шлюза.
	DefaultDelay = 100 * time.Millisecond
	// DefaultApprovalRate — вероятность одобрения платежа.
	DefaultApprovalRate = 0.9
)

// SimulatedGateway одобряет платежи с заданной вероятностью после задержки.
type SimulatedGateway struct {
	delay        time.Duration
	approvalRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// SimulatedOption настраивает симулятор.
type SimulatedOption func(*SimulatedGateway)

// WithDelay задаёт задержку ответа.
func WithDelay(d time.Duration) SimulatedOption {
	return func(g *SimulatedGateway) {
		if d >= 0 {
			g.delay = d
		}
	}
}

// WithApprovalRate задаёт вероятность одобрения в диапазоне [0, 1].
func WithApprovalRate(rate float64) SimulatedOption {
	return func(g *SimulatedGateway) {
		if rate >= 0 && rate <= 1 {
			g.approvalRate = rate
		}
	}
}

// WithRand подменяет источник случайности (для детерминированных тестов).
func WithRand(rnd *rand.Rand) SimulatedOption {
	return func(g *SimulatedGateway) {
		if rnd != nil {
			g.rnd = rnd
		}
	}
}

// NewSimulatedGateway создаёт симулятор с задержкой 100ms и одобрением 90%.
func NewSimulatedGateway(opts ...SimulatedOption) *SimulatedGateway {
	g := &SimulatedGateway{
		delay:        DefaultDelay,
		approvalRate: DefaultApprovalRate,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize ждёт задержку (с учётом отмены контекста) и бросает монетку.
func (g *SimulatedGateway) Authorize(ctx context.Context, _ string, _ domain.Money) (bool, error) {
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	g.mu.Lock()
	sample := g.rnd.Float64()
	g.mu.Unlock()

	return sample < g.approvalRate, nil
}

var _ domain.PaymentGateway = (*SimulatedGateway)(nil)
