package grpcsvc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	"github.com/vladislavdragonenkov/shop/internal/service/report"
)

// Orders — операции жизненного цикла заказа, которые публикует транспорт.
type Orders interface {
	CreateOrder(ctx context.Context, customerID string, items []domain.LineRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, page domain.Page) (domain.PageResult[domain.Order], error)
	ListOrdersByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.PageResult[domain.Order], error)
	ProcessPayment(ctx context.Context, orderID string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (domain.Order, error)
	OrderTimeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// Reports — отчёты по одобренным заказам. Invalidate сбрасывает кэш после одобрения оплаты.
type Reports interface {
	MonthlyRevenue(ctx context.Context, year, month int) (domain.Money, error)
	CurrentMonthRevenue(ctx context.Context) (domain.Money, error)
	TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error)
	AverageTicket(ctx context.Context) ([]domain.CustomerTicket, error)
	PerformanceReport(ctx context.Context, year, month int) (report.PerformanceReport, error)
	Invalidate()
}

// OrderService реализует shop.v1.OrderService поверх сервисов заказов и отчётов.
type OrderService struct {
	orders  Orders
	reports Reports
	logger  *log.Entry

	idem        domain.IdempotencyRepository
	idemTTL     time.Duration
	idemMetrics *metrics.IdempotencyMetrics
	now         func() time.Time
}

// Option настраивает OrderService.
type Option func(*OrderService)

func WithLogger(logger *log.Entry) Option {
	return func(s *OrderService) { s.logger = logger }
}

// WithIdempotency включает обработку заголовка idempotency-key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *OrderService) {
		s.idem = repo
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

func WithIdempotencyMetrics(m *metrics.IdempotencyMetrics) Option {
	return func(s *OrderService) { s.idemMetrics = m }
}

// NewOrderService конструирует транспортный слой.
func NewOrderService(orders Orders, reports Reports, opts ...Option) (*OrderService, error) {
	if orders == nil || reports == nil {
		return nil, errors.New("grpc order service requires orders and reports")
	}
	s := &OrderService{
		orders:  orders,
		reports: reports,
		idemTTL: DefaultIdempotencyTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New().WithField("component", "grpc-order-service")
	}
	return s, nil
}

var _ OrderServiceServer = (*OrderService)(nil)

func (s *OrderService) CreateOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, MethodCreateOrder, req, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		customerID, err := requiredString(req, "customer_id")
		if err != nil {
			return nil, err
		}
		items, err := lineRequests(req)
		if err != nil {
			return nil, err
		}
		order, err := s.orders.CreateOrder(ctx, customerID, items)
		if err != nil {
			return nil, s.fail(MethodCreateOrder, err)
		}
		return toStruct(orderFields(order))
	})
}

func (s *OrderService) GetOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, s.fail(MethodGetOrder, err)
	}
	return toStruct(orderFields(order))
}

func (s *OrderService) ListOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	page, err := pageFromRequest(req)
	if err != nil {
		return nil, err
	}
	result, err := s.orders.ListOrders(ctx, page)
	if err != nil {
		return nil, s.fail(MethodListOrders, err)
	}
	return toStruct(orderPageFields(result))
}

func (s *OrderService) ListOrdersByCustomer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	customerID, err := requiredString(req, "customer_id")
	if err != nil {
		return nil, err
	}
	page, err := pageFromRequest(req)
	if err != nil {
		return nil, err
	}
	result, err := s.orders.ListOrdersByCustomer(ctx, customerID, page)
	if err != nil {
		return nil, s.fail(MethodListOrdersByCustomer, err)
	}
	return toStruct(orderPageFields(result))
}

func (s *OrderService) ProcessPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, MethodProcessPayment, req, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return s.transition(ctx, MethodProcessPayment, req, s.pay)
	})
}

// pay проводит оплату и сбрасывает кэш отчётов, если выручка изменилась.
func (s *OrderService) pay(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.orders.ProcessPayment(ctx, orderID)
	if err == nil && order.Status == domain.OrderStatusApproved {
		s.reports.Invalidate()
	}
	return order, err
}

func (s *OrderService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.idempotent(ctx, MethodCancelOrder, req, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return s.transition(ctx, MethodCancelOrder, req, s.orders.CancelOrder)
	})
}

func (s *OrderService) transition(ctx context.Context, method string, req *structpb.Struct, op func(context.Context, string) (domain.Order, error)) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	order, err := op(ctx, orderID)
	if err != nil {
		return nil, s.fail(method, err)
	}
	return toStruct(orderFields(order))
}

func (s *OrderService) GetOrderTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	orderID, err := requiredString(req, "order_id")
	if err != nil {
		return nil, err
	}
	events, err := s.orders.OrderTimeline(ctx, orderID)
	if err != nil {
		return nil, s.fail(MethodGetOrderTimeline, err)
	}
	return toStruct(timelineFields(orderID, events))
}

func (s *OrderService) GetMonthlyRevenue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	year, err := intField(req, "year", 0)
	if err != nil {
		return nil, err
	}
	month, err := intField(req, "month", 0)
	if err != nil {
		return nil, err
	}
	revenue, err := s.reports.MonthlyRevenue(ctx, int(year), int(month))
	if err != nil {
		return nil, s.fail(MethodGetMonthlyRevenue, err)
	}
	return toStruct(map[string]any{
		"year":    year,
		"month":   month,
		"revenue": revenue.String(),
	})
}

func (s *OrderService) GetTopCustomers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intField(req, "limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}
	rows, err := s.reports.TopCustomers(ctx, int(limit))
	if err != nil {
		return nil, s.fail(MethodGetTopCustomers, err)
	}
	return toStruct(topCustomersFields(rows))
}

func (s *OrderService) GetAverageTicket(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rows, err := s.reports.AverageTicket(ctx)
	if err != nil {
		return nil, s.fail(MethodGetAverageTicket, err)
	}
	return toStruct(ticketFields(rows))
}

func (s *OrderService) GetCurrentMonthRevenue(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	revenue, err := s.reports.CurrentMonthRevenue(ctx)
	if err != nil {
		return nil, s.fail(MethodGetCurrentRevenue, err)
	}
	now := s.now()
	return toStruct(map[string]any{
		"year":    now.Year(),
		"month":   int(now.Month()),
		"revenue": revenue.String(),
	})
}

func (s *OrderService) GetPerformanceReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	year, err := intField(req, "year", 0)
	if err != nil {
		return nil, err
	}
	month, err := intField(req, "month", 0)
	if err != nil {
		return nil, err
	}
	rep, err := s.reports.PerformanceReport(ctx, int(year), int(month))
	if err != nil {
		return nil, s.fail(MethodGetPerformance, err)
	}
	return toStruct(performanceFields(rep))
}

func (s *OrderService) fail(method string, err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		s.logger.WithError(err).WithField("method", method).Error("request failed")
	}
	return st
}
