package domain

import (
	"context"
	"time"
)

// Page задаёт номер страницы (с нуля) и её размер.
type Page struct {
	Number int
	Size   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Normalize подставляет значения по умолчанию.
func (p Page) Normalize() Page {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset возвращает смещение первой записи страницы.
func (p Page) Offset() int {
	return p.Number * p.Size
}

// PageResult — страница выборки.
type PageResult[T any] struct {
	Items  []T
	Total  int
	Number int
	Size   int
}

// CustomerSpend — строка отчёта о самых платёжеспособных клиентах.
type CustomerSpend struct {
	CustomerID   string
	CustomerName string
	OrderCount   int64
	TotalSpent   Money
}

// CustomerTicket — средний чек клиента.
type CustomerTicket struct {
	CustomerID    string
	CustomerName  string
	AverageTicket Money
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ вместе с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновление с учётом optimistic locking и возвращает сохранённую версию.
	Save(ctx context.Context, order Order) (Order, error)
	ListByCustomer(ctx context.Context, customerID string, page Page) (PageResult[Order], error)
	List(ctx context.Context, page Page) (PageResult[Order], error)
	ListByStatus(ctx context.Context, status OrderStatus) ([]Order, error)
	ListByDateRange(ctx context.Context, start, end time.Time) ([]Order, error)
	// TopCustomers возвращает клиентов по убыванию суммы одобренных заказов.
	TopCustomers(ctx context.Context, limit int) ([]CustomerSpend, error)
	// AverageTicketByCustomer возвращает средний чек одобренных заказов, по имени клиента.
	AverageTicketByCustomer(ctx context.Context) ([]CustomerTicket, error)
	// MonthlyRevenue возвращает сумму одобренных заказов за месяц (UTC).
	MonthlyRevenue(ctx context.Context, year, month int) (Money, error)
}

// ProductRepository хранит каталог и остатки.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	Save(ctx context.Context, product Product) (Product, error)
	SaveAll(ctx context.Context, products []Product) error
	// DecrementStock атомарно списывает остатки по всем позициям либо не меняет ничего.
	// При нехватке возвращает *StockShortage.
	DecrementStock(ctx context.Context, lines []StockRequest) error
}

// StockShortage описывает позицию, на которой не прошло условное списание.
type StockShortage struct {
	ProductID string
	Available int64
	Requested int64
}

func (s *StockShortage) Error() string {
	return ErrStockShortage.Error() + ": product " + s.ProductID
}

func (s *StockShortage) Unwrap() error {
	return ErrStockShortage
}

// CustomerRepository хранит клиентов.
type CustomerRepository interface {
	Create(ctx context.Context, customer Customer) error
	Get(ctx context.Context, id string) (Customer, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OrderOperation задаёт имена операций для метрик/логов/трейсов.
type OrderOperation string

const (
	OperationCreate         OrderOperation = "create"
	OperationProcessPayment OrderOperation = "process_payment"
	OperationCancel         OrderOperation = "cancel"
)
