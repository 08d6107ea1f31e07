package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Order
	customers domain.CustomerRepository
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
// customers нужен только отчётам (имена клиентов) и может быть nil.
func NewOrderRepository(customers domain.CustomerRepository) domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		customers: customers,
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать мутаций извне.
	r.items[order.ID] = order.Clone()
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	order.Version++
	r.items[order.ID] = order.Clone()
	return order, nil
}

func (r *orderRepositoryInMemory) ListByCustomer(_ context.Context, customerID string, page domain.Page) (domain.PageResult[domain.Order], error) {
	return r.page(page, func(o domain.Order) bool { return o.CustomerID == customerID }), nil
}

func (r *orderRepositoryInMemory) List(_ context.Context, page domain.Page) (domain.PageResult[domain.Order], error) {
	return r.page(page, func(domain.Order) bool { return true }), nil
}

func (r *orderRepositoryInMemory) ListByStatus(_ context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool { return o.Status == status }), nil
}

// ListByDateRange возвращает заказы, созданные в полуинтервале [start, end).
func (r *orderRepositoryInMemory) ListByDateRange(_ context.Context, start, end time.Time) ([]domain.Order, error) {
	return r.filter(func(o domain.Order) bool {
		return !o.CreatedAt.Before(start) && o.CreatedAt.Before(end)
	}), nil
}

func (r *orderRepositoryInMemory) TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error) {
	byCustomer := r.approvedByCustomer()

	result := make([]domain.CustomerSpend, 0, len(byCustomer))
	for id, agg := range byCustomer {
		result = append(result, domain.CustomerSpend{
			CustomerID:   id,
			CustomerName: r.customerName(ctx, id),
			OrderCount:   agg.count,
			TotalSpent:   agg.total,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalSpent != result[j].TotalSpent {
			return result[i].TotalSpent > result[j].TotalSpent
		}
		return result[i].CustomerID < result[j].CustomerID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepositoryInMemory) AverageTicketByCustomer(ctx context.Context) ([]domain.CustomerTicket, error) {
	byCustomer := r.approvedByCustomer()

	result := make([]domain.CustomerTicket, 0, len(byCustomer))
	for id, agg := range byCustomer {
		avg := decimal.NewFromInt(int64(agg.total)).Div(decimal.NewFromInt(agg.count)).Round(0)
		result = append(result, domain.CustomerTicket{
			CustomerID:    id,
			CustomerName:  r.customerName(ctx, id),
			AverageTicket: domain.Money(avg.IntPart()),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CustomerName != result[j].CustomerName {
			return result[i].CustomerName < result[j].CustomerName
		}
		return result[i].CustomerID < result[j].CustomerID
	})
	return result, nil
}

func (r *orderRepositoryInMemory) MonthlyRevenue(_ context.Context, year, month int) (domain.Money, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total domain.Money
	for _, order := range r.items {
		if order.Status != domain.OrderStatusApproved {
			continue
		}
		created := order.CreatedAt.UTC()
		if created.Year() == year && int(created.Month()) == month {
			total += order.TotalAmount
		}
	}
	return total, nil
}

type spendAggregate struct {
	count int64
	total domain.Money
}

func (r *orderRepositoryInMemory) approvedByCustomer() map[string]spendAggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]spendAggregate)
	for _, order := range r.items {
		if order.Status != domain.OrderStatusApproved {
			continue
		}
		agg := out[order.CustomerID]
		agg.count++
		agg.total += order.TotalAmount
		out[order.CustomerID] = agg
	}
	return out
}

func (r *orderRepositoryInMemory) customerName(ctx context.Context, id string) string {
	if r.customers == nil {
		return ""
	}
	customer, err := r.customers.Get(ctx, id)
	if err != nil {
		return ""
	}
	return customer.Name
}

// filter возвращает отсортированные (новые первыми) копии заказов.
func (r *orderRepositoryInMemory) filter(keep func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if keep(order) {
			result = append(result, order.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result
}

func (r *orderRepositoryInMemory) page(page domain.Page, keep func(domain.Order) bool) domain.PageResult[domain.Order] {
	page = page.Normalize()
	all := r.filter(keep)

	res := domain.PageResult[domain.Order]{Total: len(all), Number: page.Number, Size: page.Size}
	start := page.Offset()
	if start >= len(all) {
		res.Items = []domain.Order{}
		return res
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	res.Items = all[start:end]
	return res
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
