// Package order управляет жизненным циклом заказа: создание, оплата, отмена.
// Это единственный компонент, который пишет в хранилище заказов.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/validation"
)

const tracerName = "github.com/vladislavdragonenkov/shop/internal/service/order"

// Inventory — проверка и списание остатков.
type Inventory interface {
	CheckAvailability(ctx context.Context, lines []domain.StockRequest) error
	Commit(ctx context.Context, lines []domain.StockRequest) error
}

// Payments — проведение оплаты. Никогда не возвращает ошибку.
type Payments interface {
	Charge(ctx context.Context, order domain.Order) domain.PaymentOutcome
}

// Deps — обязательные зависимости сервиса. Timeline и Outbox опциональны.
type Deps struct {
	Orders    domain.OrderRepository
	Products  domain.ProductRepository
	Customers domain.CustomerRepository
	Timeline  domain.TimelineRepository
	Outbox    domain.OutboxRepository
	Validator *validation.OrderValidator
	Inventory Inventory
	Payments  Payments
}

// Option настраивает сервис.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer подменяет трейсер (по умолчанию берётся глобальный провайдер).
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithConflictRetries задаёт число попыток сохранения при конфликте версий и базовую задержку.
func WithConflictRetries(attempts int, baseDelay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxRetries = attempts
		}
		if baseDelay >= 0 {
			s.baseDelay = baseDelay
		}
	}
}

// Service — оркестратор жизненного цикла заказа.
type Service struct {
	orders    domain.OrderRepository
	products  domain.ProductRepository
	customers domain.CustomerRepository
	timeline  domain.TimelineRepository
	outbox    domain.OutboxRepository
	validator *validation.OrderValidator
	inventory Inventory
	payments  Payments

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	locks   *keyedLocker
	now     func() time.Time
	newID   func() string

	maxRetries int
	baseDelay  time.Duration
}

// NewService создаёт сервис заказов.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: orders repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: products repository is required")
	case deps.Customers == nil:
		return nil, errors.New("order service: customers repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payments is required")
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}

	s := &Service{
		orders:     deps.Orders,
		products:   deps.Products,
		customers:  deps.Customers,
		timeline:   deps.Timeline,
		outbox:     deps.Outbox,
		validator:  deps.Validator,
		inventory:  deps.Inventory,
		payments:   deps.Payments,
		logger:     log.New().WithField("component", "order-service"),
		tracer:     otel.Tracer(tracerName),
		locks:      newKeyedLocker(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		maxRetries: 3,
		baseDelay:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateOrder создаёт заказ в статусе pending. Остатки не резервируются:
// проверка наличия на этом шаге носит рекомендательный характер.
func (s *Service) CreateOrder(ctx context.Context, customerID string, items []domain.LineRequest) (order domain.Order, err error) {
	ctx, finish := s.observe(ctx, domain.OperationCreate, attribute.String("customer.id", customerID))
	defer func() { finish(err) }()

	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Order{}, domain.NotFound("Customer", customerID, err)
		}
		return domain.Order{}, fmt.Errorf("load customer %s: %w", customerID, err)
	}

	if err := s.validator.ValidateCreation(items, &customer); err != nil {
		return domain.Order{}, err
	}

	requests := make([]domain.StockRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, domain.StockRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.inventory.CheckAvailability(ctx, requests); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order = domain.Order{
		ID:         s.newID(),
		CustomerID: customer.ID,
		Status:     domain.OrderStatusPending,
		Lines:      make([]domain.OrderLine, 0, len(items)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, item := range items {
		product, err := s.products.Get(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.Order{}, domain.NotFound("Product", item.ProductID, err)
			}
			return domain.Order{}, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ID:          s.newID(),
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
			CreatedAt:   now,
		})
	}
	order.TotalAmount = order.LinesTotal()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order invariants: %w", errors.Join(errs...))
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	s.emitEvent(ctx, order, domain.EventOrderCreated, "")
	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.TotalAmount.String(),
		"lines":       len(order.Lines),
	}).Info("order created")

	return order, nil
}

// ProcessPayment проводит оплату pending-заказа.
//
// Отказ шлюза не является ошибкой: заказ переходит в rejected и возвращается с nil.
// Если ctx отменён до решения шлюза, заказ остаётся pending и возвращается ошибка контекста.
// При нехватке остатка заказ переводится в cancelled, сохраняется и возвращается
// вместе с ошибкой insufficient_stock (Mutated=true).
func (s *Service) ProcessPayment(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, finish := s.observe(ctx, domain.OperationProcessPayment, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err = s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.validator.ValidatePaymentEligibility(&order); err != nil {
		return domain.Order{}, err
	}

	if err := s.inventory.CheckAvailability(ctx, order.StockRequests()); err != nil {
		if domain.IsKind(err, domain.KindInsufficientStock) {
			return s.cancelForShortage(ctx, order, err)
		}
		return domain.Order{}, err
	}

	started := time.Now()
	outcome := s.payments.Charge(ctx, order)
	if s.metrics != nil {
		s.metrics.RecordGatewayDuration(time.Since(started))
		s.metrics.RecordPayment(string(outcome))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("payment.outcome", string(outcome)))

	if outcome == domain.PaymentInterrupted {
		s.logger.WithField("order_id", order.ID).Info("payment interrupted, order left pending")
		return domain.Order{}, fmt.Errorf("process payment %s: %w", order.ID, context.Cause(ctx))
	}

	if outcome != domain.PaymentApproved {
		if err := s.updateStatus(ctx, &order, domain.OrderStatusRejected, domain.OperationProcessPayment); err != nil {
			return domain.Order{}, err
		}
		s.emitEvent(ctx, order, domain.EventOrderRejected, "payment declined")
		s.logger.WithField("order_id", order.ID).Info("order rejected")
		return order, nil
	}

	if err := s.inventory.Commit(ctx, order.StockRequests()); err != nil {
		if domain.IsKind(err, domain.KindInsufficientStock) {
			return s.cancelForShortage(ctx, order, err)
		}
		return domain.Order{}, err
	}

	if err := s.updateStatus(ctx, &order, domain.OrderStatusApproved, domain.OperationProcessPayment); err != nil {
		// Остаток уже списан, статус не сохранён: нужен ручной разбор.
		s.logger.WithError(err).WithField("order_id", order.ID).Error("stock committed but approval not persisted")
		s.recordStockCommitted(ctx, order, err)
		return domain.Order{}, err
	}
	s.emitEvent(ctx, order, domain.EventOrderApproved, "")
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"total":    order.TotalAmount.String(),
	}).Info("order approved")
	return order, nil
}

// CancelOrder отменяет pending-заказ. Повторная отмена ничего не меняет.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (order domain.Order, err error) {
	ctx, finish := s.observe(ctx, domain.OperationCancel, attribute.String("order.id", orderID))
	defer func() { finish(err) }()

	unlock := s.locks.Lock(orderID)
	defer unlock()

	order, err = s.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.validator.ValidateCancellation(&order); err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		s.logger.WithField("order_id", order.ID).Debug("order already cancelled")
		return order, nil
	}

	if err := s.updateStatus(ctx, &order, domain.OrderStatusCancelled, domain.OperationCancel); err != nil {
		return domain.Order{}, err
	}
	s.emitEvent(ctx, order, domain.EventOrderCancelled, "cancelled by request")
	if s.metrics != nil {
		s.metrics.RecordOrderCancelled()
	}
	s.logger.WithField("order_id", order.ID).Info("order cancelled")
	return order, nil
}

// GetOrder возвращает заказ с позициями.
func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.loadOrder(ctx, orderID)
}

// ListOrders возвращает страницу всех заказов, новые первыми.
func (s *Service) ListOrders(ctx context.Context, page domain.Page) (domain.PageResult[domain.Order], error) {
	res, err := s.orders.List(ctx, page.Normalize())
	if err != nil {
		return domain.PageResult[domain.Order]{}, fmt.Errorf("list orders: %w", err)
	}
	return res, nil
}

// ListOrdersByCustomer возвращает страницу заказов клиента.
func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.PageResult[domain.Order], error) {
	res, err := s.orders.ListByCustomer(ctx, customerID, page.Normalize())
	if err != nil {
		return domain.PageResult[domain.Order]{}, fmt.Errorf("list orders by customer: %w", err)
	}
	return res, nil
}

// OrderTimeline возвращает историю событий заказа.
func (s *Service) OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NotFound("Order", orderID, err)
		}
		return domain.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	return order, nil
}

// cancelForShortage отменяет заказ и возвращает исходную ошибку нехватки с пометкой Mutated.
func (s *Service) cancelForShortage(ctx context.Context, order domain.Order, stockErr error) (domain.Order, error) {
	if s.metrics != nil {
		s.metrics.RecordStockShortfall(string(domain.OperationProcessPayment))
	}
	if err := s.updateStatus(ctx, &order, domain.OrderStatusCancelled, domain.OperationProcessPayment); err != nil {
		return domain.Order{}, errors.Join(stockErr, err)
	}
	s.emitEvent(ctx, order, domain.EventOrderCancelled, stockErr.Error())
	if s.metrics != nil {
		s.metrics.RecordOrderCancelled()
	}
	s.logger.WithError(stockErr).WithField("order_id", order.ID).Warn("order cancelled due to insufficient stock")

	if de, ok := domain.AsError(stockErr); ok {
		de.Mutated = true
	}
	return order, stockErr
}

// updateStatus сохраняет новый статус с учётом optimistic locking.
// При конфликте версий заказ перечитывается, переход перепроверяется по таблице,
// между попытками — экспоненциальная задержка.
func (s *Service) updateStatus(ctx context.Context, order *domain.Order, newStatus domain.OrderStatus, op domain.OrderOperation) error {
	if order.Status == newStatus {
		return nil
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if !domain.CanTransition(order.Status, newStatus) {
			return domain.InvalidState(order.ID, order.Status, string(op))
		}

		next := order.Clone()
		next.Status = newStatus
		next.UpdatedAt = s.now()

		saved, err := s.orders.Save(ctx, next)
		if err == nil {
			*order = saved
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == s.maxRetries-1 {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return fmt.Errorf("persist order status: %w", err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		delay := s.baseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		fresh, err := s.orders.Get(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("reload order after conflict: %w", err)
		}
		*order = fresh
		if order.Status == newStatus {
			return nil
		}
	}
	return domain.ErrOrderVersionConflict
}

// observe открывает span и учитывает метрики операции. finish вызывается с итоговой ошибкой.
func (s *Service) observe(ctx context.Context, op domain.OrderOperation, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "order."+string(op), trace.WithAttributes(attrs...))
	started := time.Now()
	if s.metrics != nil {
		s.metrics.OperationStarted(string(op))
	}

	return ctx, func(err error) {
		if s.metrics != nil {
			s.metrics.OperationFinished(string(op))
			s.metrics.RecordOperationDuration(string(op), time.Since(started))
		}
		if err != nil {
			kind := domain.KindOf(err)
			if s.metrics != nil {
				s.metrics.RecordFailure(string(op), string(kind))
			}
			span.RecordError(err)
			if kind == "" {
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetAttributes(attribute.String("error.kind", string(kind)))
			}
		}
		span.End()
	}
}
