package payment

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// MockGateway — конфигурируемая заглушка шлюза для тестов.
// Если Script не пуст, ответы берутся из него по очереди, иначе возвращается Approve/Err.
type MockGateway struct {
	mu sync.Mutex

	Approve bool
	Err     error
	Script  []bool
	// Hook вызывается перед ответом (например, чтобы увести остаток в тесте гонки).
	Hook func(orderID string)

	Calls int
}

// NewMockGateway возвращает mock, одобряющий все платежи.
func NewMockGateway() *MockGateway {
	return &MockGateway{Approve: true}
}

// Authorize возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Authorize(_ context.Context, orderID string, _ domain.Money) (bool, error) {
	m.mu.Lock()
	m.Calls++
	hook := m.Hook
	approve, err := m.Approve, m.Err
	if len(m.Script) > 0 {
		approve = m.Script[0]
		m.Script = m.Script[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(orderID)
	}
	return approve, err
}

// CallCount возвращает число вызовов.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
