package payment

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerGateway защищает шлюз от лавины запросов при серии сбоев.
// Отказ в оплате (approved=false) и отмена контекста вызывающего сбоем не считаются.
type BreakerGateway struct {
	next         domain.PaymentGateway
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewBreakerGateway создаёт обёртку. maxFailures <= 0 отключает размыкание.
func NewBreakerGateway(next domain.PaymentGateway, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *BreakerGateway {
	if logger == nil {
		logger = log.New().WithField("component", "payment-breaker")
	}
	return &BreakerGateway{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (b *BreakerGateway) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Authorize вызывает шлюз, если цепь не разомкнута.
func (b *BreakerGateway) Authorize(ctx context.Context, orderID string, amount domain.Money) (bool, error) {
	if !b.allow() {
		return false, domain.ErrGatewayUnavailable
	}

	approved, err := b.next.Authorize(ctx, orderID, amount)
	// Отмена ctx вызывающим ничего не говорит о шлюзе: счётчик и состояние не меняются.
	if err != nil && ctx.Err() != nil {
		return approved, err
	}
	b.record(err)
	return approved, err
}

func (b *BreakerGateway) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != CircuitOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.resetTimeout {
		b.state = CircuitHalfOpen
		b.logger.Info("circuit breaker half-open")
		return true
	}
	return false
}

func (b *BreakerGateway) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == CircuitHalfOpen || (b.maxFailures > 0 && b.failures >= b.maxFailures) {
			if b.state != CircuitOpen {
				b.logger.WithField("failures", b.failures).Warn("circuit breaker opened")
			}
			b.state = CircuitOpen
		}
		return
	}

	if b.state == CircuitHalfOpen {
		b.logger.Info("circuit breaker closed")
	}
	b.state = CircuitClosed
	b.failures = 0
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
