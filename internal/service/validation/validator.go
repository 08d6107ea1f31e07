// Package validation содержит бизнес-правила заказа. Не выполняет I/O.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	// MaxLines — максимальное число позиций в заказе.
	MaxLines = 50
	// MaxQuantity — максимальное количество единиц в позиции.
	MaxQuantity = 1000
	// MinReportYear — первый год, за который строятся отчёты.
	MinReportYear = 2020
)

// OrderValidator проверяет входящие запросы и пригодность заказа к операциям.
type OrderValidator struct {
	now func() time.Time
}

// Option настраивает валидатор.
type Option func(*OrderValidator)

// WithClock подменяет источник текущего времени (для отчётов).
func WithClock(now func() time.Time) Option {
	return func(v *OrderValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// New создаёт валидатор.
func New(opts ...Option) *OrderValidator {
	v := &OrderValidator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateCreation проверяет клиента и позиции нового заказа.
func (v *OrderValidator) ValidateCreation(items []domain.LineRequest, customer *domain.Customer) error {
	if customer == nil {
		return domain.Validation("customer", nil, "customer is required")
	}
	if strings.TrimSpace(customer.Name) == "" {
		return domain.Validation("customer.name", customer.Name, "name is required")
	}
	if strings.TrimSpace(customer.Email) == "" {
		return domain.Validation("customer.email", customer.Email, "email is required")
	}

	if len(items) == 0 {
		return domain.Validation("items", len(items), "order must contain at least one item")
	}
	if len(items) > MaxLines {
		return domain.Validation("items", len(items), fmt.Sprintf("order cannot contain more than %d items", MaxLines))
	}

	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return domain.Validation(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "product is required")
		}
		if item.Quantity <= 0 {
			return domain.Validation(fmt.Sprintf("items[%d].quantity", i), item.Quantity, "quantity must be greater than zero")
		}
		if item.Quantity > MaxQuantity {
			return domain.Validation(fmt.Sprintf("items[%d].quantity", i), item.Quantity, fmt.Sprintf("quantity cannot exceed %d", MaxQuantity))
		}
	}
	return nil
}

// ValidatePaymentEligibility проверяет, что заказ можно отправить на оплату.
func (v *OrderValidator) ValidatePaymentEligibility(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.Validation("order", nil, "order is required")
	}
	if order.Status != domain.OrderStatusPending {
		return domain.InvalidState(order.ID, order.Status, string(domain.OperationProcessPayment))
	}
	if order.CustomerID == "" {
		return domain.PaymentFailed(order.ID, "order has no customer")
	}
	if len(order.Lines) == 0 {
		return domain.PaymentFailed(order.ID, "order has no items")
	}
	if order.TotalAmount <= 0 {
		return domain.PaymentFailed(order.ID, "order total must be greater than zero")
	}
	if order.TotalAmount > domain.MaxPaymentAmount {
		return domain.PaymentFailed(order.ID, fmt.Sprintf("order total %s exceeds limit %s", order.TotalAmount, domain.MaxPaymentAmount))
	}
	return nil
}

// ValidateCancellation проверяет переход в cancelled по таблице статусов.
func (v *OrderValidator) ValidateCancellation(order *domain.Order) error {
	if order == nil || order.ID == "" {
		return domain.Validation("order", nil, "order is required")
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusCancelled) {
		return domain.InvalidState(order.ID, order.Status, string(domain.OperationCancel))
	}
	return nil
}

// ValidateReportParams проверяет год и месяц отчёта.
func (v *OrderValidator) ValidateReportParams(year, month int) error {
	if month < 1 || month > 12 {
		return domain.Validation("month", month, "month must be between 1 and 12")
	}
	maxYear := v.now().Year() + 1
	if year < MinReportYear || year > maxYear {
		return domain.Validation("year", year, fmt.Sprintf("year must be between %d and %d", MinReportYear, maxYear))
	}
	return nil
}
