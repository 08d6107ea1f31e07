package domain

import (
	"errors"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не проводилась.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusApproved — оплата одобрена, остатки списаны.
	OrderStatusApproved OrderStatus = "approved"
	// OrderStatusRejected — оплата отклонена шлюзом.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCancelled — заказ отменён клиентом или из-за нехватки остатка.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Допустимые переходы. Всё, чего нет в таблице, запрещено.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusApproved, OrderStatusRejected, OrderStatusCancelled},
	OrderStatusCancelled: {OrderStatusCancelled},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusApproved, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет выхода в другой статус.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// CanTransition проверяет переход по таблице.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	errCustomerRequired = errors.New("customer_id is required")
	errLinesRequired    = errors.New("order must contain at least one line")
	errLineQtyInvalid   = errors.New("line quantity must be greater than zero")
	errLinePriceInvalid = errors.New("line unit price must be non-negative")
	errTotalMismatch    = errors.New("order total does not match lines sum")
	errStatusInvalid    = errors.New("order status is not supported")
)

// LineRequest — позиция во входящем запросе на создание заказа.
type LineRequest struct {
	ProductID string
	Quantity  int64
}

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	ID        string
	ProductID string
	// ProductName — снимок названия на момент создания заказа.
	ProductName string
	Quantity    int64
	// UnitPrice — снимок цены товара на момент создания заказа.
	UnitPrice Money
	CreatedAt time.Time
}

// Subtotal возвращает стоимость позиции.
func (l OrderLine) Subtotal() Money {
	return l.UnitPrice.Mul(l.Quantity)
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	CustomerID  string
	Status      OrderStatus
	Lines       []OrderLine
	TotalAmount Money
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LinesTotal пересчитывает сумму по позициям.
func (o *Order) LinesTotal() Money {
	var total Money
	for _, line := range o.Lines {
		total += line.Subtotal()
	}
	return total
}

// StockRequests переводит позиции заказа в запросы к складу, сохраняя порядок.
func (o *Order) StockRequests() []StockRequest {
	out := make([]StockRequest, 0, len(o.Lines))
	for _, line := range o.Lines {
		out = append(out, StockRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return out
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, errCustomerRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, errStatusInvalid)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, errLinesRequired)
	}
	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, errLineQtyInvalid)
		}
		if line.UnitPrice < 0 {
			errs = append(errs, errLinePriceInvalid)
		}
	}
	if o.LinesTotal() != o.TotalAmount {
		errs = append(errs, errTotalMismatch)
	}

	return errs
}

// Clone возвращает копию заказа с собственным срезом позиций.
func (o Order) Clone() Order {
	cp := o
	if o.Lines != nil {
		cp.Lines = append([]OrderLine(nil), o.Lines...)
	}
	return cp
}
