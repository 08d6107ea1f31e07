// Package payment проводит списание через внешний платёжный шлюз.
package payment

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Processor превращает исход шлюза в approved/rejected.
// Отмена контекста вызывающего даёт interrupted: шлюз ничего не решил.
type Processor struct {
	gateway domain.PaymentGateway
	logger  *log.Entry
}

// NewProcessor создаёт процессор поверх шлюза.
func NewProcessor(gateway domain.PaymentGateway, logger *log.Entry) *Processor {
	if logger == nil {
		logger = log.New().WithField("component", "payment")
	}
	return &Processor{gateway: gateway, logger: logger}
}

// Charge пытается списать сумму заказа. Ошибок не возвращает: сбой шлюза означает отказ,
// отмена ctx до ответа шлюза означает interrupted.
func (p *Processor) Charge(ctx context.Context, order domain.Order) (outcome domain.PaymentOutcome) {
	entry := p.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"amount":   order.TotalAmount.String(),
	})

	if !p.ValidateAmountLimits(order.TotalAmount) {
		entry.Info("amount outside payment limits, payment rejected")
		return domain.PaymentRejected
	}

	if ctx.Err() != nil {
		entry.WithError(ctx.Err()).Info("payment interrupted before gateway call")
		return domain.PaymentInterrupted
	}

	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", fmt.Sprint(r)).Error("payment gateway panicked")
			outcome = domain.PaymentRejected
		}
	}()

	approved, err := p.gateway.Authorize(ctx, order.ID, order.TotalAmount)
	if err != nil && ctx.Err() != nil {
		entry.WithError(err).Info("payment interrupted by caller")
		return domain.PaymentInterrupted
	}
	if err != nil {
		entry.WithError(err).Warn("payment gateway failed, payment rejected")
		return domain.PaymentRejected
	}
	if !approved {
		entry.Info("payment declined")
		return domain.PaymentRejected
	}
	entry.Info("payment approved")
	return domain.PaymentApproved
}

// ValidateAmountLimits проверяет сумму по тем же границам, что и валидатор заказа.
func (p *Processor) ValidateAmountLimits(amount domain.Money) bool {
	return amount >= domain.MinPaymentAmount && amount <= domain.MaxPaymentAmount
}

// CalculateFees возвращает комиссию. Сейчас комиссий нет.
func (p *Processor) CalculateFees(domain.Money) domain.Money {
	return 0
}
