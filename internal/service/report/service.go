// Package report строит отчёты по одобренным заказам поверх хранилища заказов.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/validation"
)

// DefaultTopLimit — число клиентов в отчёте по умолчанию.
const DefaultTopLimit = 5

// PerformanceReport — сводный отчёт за месяц.
type PerformanceReport struct {
	Year           int
	Month          int
	Revenue        domain.Money
	ApprovedOrders int
	AverageTicket  domain.Money
	TopCustomers   []domain.CustomerSpend
	Tickets        []domain.CustomerTicket
	GeneratedAt    time.Time
}

// Option настраивает сервис отчётов.
type Option func(*Service)

// WithCacheTTL задаёт TTL кэша. Ноль отключает кэширование.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service отдаёт отчёты и кэширует их.
type Service struct {
	orders    domain.OrderRepository
	validator *validation.OrderValidator
	logger    *log.Entry
	now       func() time.Time
	ttl       time.Duration
	cache     *ttlCache
}

// NewService создаёт сервис отчётов.
func NewService(orders domain.OrderRepository, validator *validation.OrderValidator, opts ...Option) (*Service, error) {
	if orders == nil {
		return nil, errors.New("report service: orders repository is required")
	}
	if validator == nil {
		validator = validation.New()
	}
	s := &Service{
		orders:    orders,
		validator: validator,
		logger:    log.New().WithField("component", "report-service"),
		now:       func() time.Time { return time.Now().UTC() },
		ttl:       DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newTTLCache(s.ttl, s.now)
	return s, nil
}

// TopCustomers возвращает клиентов с наибольшей суммой одобренных заказов.
// limit <= 0 означает DefaultTopLimit.
func (s *Service) TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return cached(s.cache, fmt.Sprintf("top:%d", limit), func() ([]domain.CustomerSpend, error) {
		rows, err := s.orders.TopCustomers(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("top customers: %w", err)
		}
		return rows, nil
	})
}

// AverageTicket возвращает средний чек по клиентам, отсортированный по имени.
func (s *Service) AverageTicket(ctx context.Context) ([]domain.CustomerTicket, error) {
	return cached(s.cache, "ticket", func() ([]domain.CustomerTicket, error) {
		rows, err := s.orders.AverageTicketByCustomer(ctx)
		if err != nil {
			return nil, fmt.Errorf("average ticket: %w", err)
		}
		return rows, nil
	})
}

// MonthlyRevenue возвращает выручку одобренных заказов за месяц (ноль, если данных нет).
func (s *Service) MonthlyRevenue(ctx context.Context, year, month int) (domain.Money, error) {
	if err := s.validator.ValidateReportParams(year, month); err != nil {
		return 0, err
	}
	return cached(s.cache, fmt.Sprintf("revenue:%04d-%02d", year, month), func() (domain.Money, error) {
		revenue, err := s.orders.MonthlyRevenue(ctx, year, month)
		if err != nil {
			return 0, fmt.Errorf("monthly revenue %04d-%02d: %w", year, month, err)
		}
		return revenue, nil
	})
}

// CurrentMonthRevenue — выручка за текущий месяц (UTC).
func (s *Service) CurrentMonthRevenue(ctx context.Context) (domain.Money, error) {
	now := s.now().UTC()
	return s.MonthlyRevenue(ctx, now.Year(), int(now.Month()))
}

// PerformanceReport собирает сводку за месяц. Выручка, число одобренных заказов и
// средний чек берутся из одного чтения заказов месяца, мимо кэша.
func (s *Service) PerformanceReport(ctx context.Context, year, month int) (PerformanceReport, error) {
	if err := s.validator.ValidateReportParams(year, month); err != nil {
		return PerformanceReport{}, err
	}
	top, err := s.TopCustomers(ctx, DefaultTopLimit)
	if err != nil {
		return PerformanceReport{}, err
	}
	tickets, err := s.AverageTicket(ctx)
	if err != nil {
		return PerformanceReport{}, err
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	orders, err := s.orders.ListByDateRange(ctx, start, start.AddDate(0, 1, 0))
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("orders of %04d-%02d: %w", year, month, err)
	}
	var revenue domain.Money
	approved := 0
	for _, o := range orders {
		if o.Status == domain.OrderStatusApproved {
			approved++
			revenue += o.TotalAmount
		}
	}

	report := PerformanceReport{
		Year:           year,
		Month:          month,
		Revenue:        revenue,
		ApprovedOrders: approved,
		TopCustomers:   top,
		Tickets:        tickets,
		GeneratedAt:    s.now(),
	}
	if approved > 0 {
		avg := decimal.NewFromInt(revenue.Minor()).Div(decimal.NewFromInt(int64(approved))).Round(0)
		report.AverageTicket = domain.Money(avg.IntPart())
	}

	s.logger.WithFields(log.Fields{
		"year":     year,
		"month":    month,
		"revenue":  revenue.String(),
		"approved": approved,
	}).Debug("performance report built")
	return report, nil
}

// Invalidate сбрасывает кэш отчётов.
func (s *Service) Invalidate() {
	s.cache.clear()
}
