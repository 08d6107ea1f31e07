package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// productRepositoryInMemory хранит каталог. Все изменения остатков идут под одним мьютексом.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory каталог.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.ErrProductAlreadyExists
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	r.items[product.ID] = product
	return nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Save обновляет товар с проверкой версии.
func (r *productRepositoryInMemory) Save(_ context.Context, product domain.Product) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, err := r.saveLocked(product)
	if err != nil {
		return domain.Product{}, err
	}
	return saved, nil
}

// SaveAll сохраняет набор товаров целиком либо не сохраняет ничего.
func (r *productRepositoryInMemory) SaveAll(_ context.Context, products []domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, product := range products {
		current, ok := r.items[product.ID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if current.Version != product.Version {
			return domain.ErrProductVersionConflict
		}
	}
	for _, product := range products {
		if _, err := r.saveLocked(product); err != nil {
			return err
		}
	}
	return nil
}

// DecrementStock сначала проверяет все позиции, затем применяет списание.
func (r *productRepositoryInMemory) DecrementStock(_ context.Context, lines []domain.StockRequest) error {
	lines = domain.AggregateStock(lines)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range lines {
		product, ok := r.items[line.ProductID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if product.StockQuantity < line.Quantity {
			return &domain.StockShortage{
				ProductID: line.ProductID,
				Available: product.StockQuantity,
				Requested: line.Quantity,
			}
		}
	}

	now := time.Now().UTC()
	for _, line := range lines {
		product := r.items[line.ProductID]
		product.StockQuantity -= line.Quantity
		product.Version++
		product.UpdatedAt = now
		r.items[line.ProductID] = product
	}
	return nil
}

func (r *productRepositoryInMemory) saveLocked(product domain.Product) (domain.Product, error) {
	current, ok := r.items[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.Product{}, domain.ErrProductVersionConflict
	}
	product.Version++
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	r.items[product.ID] = product
	return product, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
