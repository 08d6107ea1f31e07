package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrOrderAlreadyExists возвращается при повторном создании заказа с тем же ID.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrProductAlreadyExists возвращается при повторном создании товара с тем же ID.
	ErrProductAlreadyExists = errors.New("product already exists")
	// ErrCustomerAlreadyExists возвращается при повторном создании клиента с тем же ID.
	ErrCustomerAlreadyExists = errors.New("customer already exists")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrProductVersionConflict сигнализирует о конфликте версий товара.
	ErrProductVersionConflict = errors.New("product version conflict")
	// ErrStockShortage возвращается хранилищем, если условное списание остатка не прошло.
	ErrStockShortage = errors.New("stock shortage")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrGatewayUnavailable — платёжный шлюз временно недоступен (circuit breaker открыт).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// Ошибки idempotency-хранилища.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже использован.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// ErrorKind перечисляет категории бизнес-ошибок движка заказов.
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"
	KindValidation        ErrorKind = "validation"
	KindInvalidState      ErrorKind = "invalid_state"
	KindInsufficientStock ErrorKind = "insufficient_stock"
	KindPayment           ErrorKind = "payment"
)

// Error — единая бизнес-ошибка. Набор заполненных полей зависит от Kind.
type Error struct {
	Kind ErrorKind

	// not_found
	EntityType string
	ID         string

	// validation
	Field  string
	Value  any
	Reason string

	// invalid_state
	CurrentState OrderStatus
	Operation    string

	// insufficient_stock
	ProductID   string
	ProductName string
	Available   int64
	Requested   int64

	// payment
	OrderID string

	// Mutated выставляется, если операция успела изменить заказ до возврата ошибки
	// (например, заказ отменён из-за нехватки остатка).
	Mutated bool

	// Err хранит инфраструктурную причину, если она есть.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch e.Kind {
	case KindNotFound:
		fmt.Fprintf(&b, ": %s %q not found", e.EntityType, e.ID)
	case KindValidation:
		fmt.Fprintf(&b, ": field %s: %s", e.Field, e.Reason)
	case KindInvalidState:
		fmt.Fprintf(&b, ": cannot %s order %s in state %s", e.Operation, e.ID, e.CurrentState)
	case KindInsufficientStock:
		fmt.Fprintf(&b, ": product %s (%s) available %d, requested %d", e.ProductID, e.ProductName, e.Available, e.Requested)
	case KindPayment:
		if e.OrderID != "" {
			fmt.Fprintf(&b, ": order %s", e.OrderID)
		}
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound формирует ошибку отсутствующей сущности.
func NotFound(entityType, id string, cause error) *Error {
	return &Error{Kind: KindNotFound, EntityType: entityType, ID: id, Err: cause}
}

// Validation формирует ошибку валидации поля.
func Validation(field string, value any, reason string) *Error {
	return &Error{Kind: KindValidation, Field: field, Value: value, Reason: reason}
}

// InvalidState формирует ошибку недопустимого перехода.
func InvalidState(orderID string, current OrderStatus, operation string) *Error {
	return &Error{Kind: KindInvalidState, ID: orderID, CurrentState: current, Operation: operation}
}

// InsufficientStock формирует ошибку нехватки остатка.
func InsufficientStock(productID, productName string, available, requested int64) *Error {
	return &Error{
		Kind:        KindInsufficientStock,
		ProductID:   productID,
		ProductName: productName,
		Available:   available,
		Requested:   requested,
	}
}

// PaymentFailed формирует ошибку платёжной пригодности заказа.
func PaymentFailed(orderID, reason string) *Error {
	return &Error{Kind: KindPayment, OrderID: orderID, Reason: reason}
}

// AsError извлекает *Error из цепочки.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf возвращает категорию ошибки или пустую строку для инфраструктурных ошибок.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}

// IsKind проверяет категорию ошибки.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
