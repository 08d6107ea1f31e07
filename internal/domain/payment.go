package domain

import "context"

// PaymentOutcome — результат попытки списания.
type PaymentOutcome string

const (
	PaymentApproved PaymentOutcome = "approved"
	PaymentRejected PaymentOutcome = "rejected"
	// PaymentInterrupted — вызывающий отменил запрос до решения шлюза. Заказ остаётся в pending.
	PaymentInterrupted PaymentOutcome = "interrupted"
)

var (
	// MinPaymentAmount — минимальная сумма одного списания.
	MinPaymentAmount = MustMoney("0.01")
	// MaxPaymentAmount — единственный потолок суммы оплаты: его проверяют и валидатор, и процессор.
	MaxPaymentAmount = MustMoney("100000.00")
)

// PaymentGateway — внешний платёжный шлюз. Возвращает true при одобрении.
type PaymentGateway interface {
	Authorize(ctx context.Context, orderID string, amount Money) (bool, error)
}

// PaymentGatewayFunc позволяет использовать функцию как шлюз.
type PaymentGatewayFunc func(ctx context.Context, orderID string, amount Money) (bool, error)

func (f PaymentGatewayFunc) Authorize(ctx context.Context, orderID string, amount Money) (bool, error) {
	return f(ctx, orderID, amount)
}
