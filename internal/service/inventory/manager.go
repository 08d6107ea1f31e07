// Package inventory проверяет и списывает остатки единственного склада.
package inventory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Manager — единственный компонент, изменяющий остатки товаров.
type Manager struct {
	products domain.ProductRepository
	logger   *log.Entry
}

// NewManager создаёт менеджер остатков.
func NewManager(products domain.ProductRepository, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.New().WithField("component", "inventory")
	}
	return &Manager{products: products, logger: logger}
}

// CheckAvailability проверяет позиции в порядке следования и останавливается
// на первой нехватке. Ничего не меняет.
func (m *Manager) CheckAvailability(ctx context.Context, lines []domain.StockRequest) error {
	for _, line := range lines {
		product, err := m.loadProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product.StockQuantity < line.Quantity {
			return domain.InsufficientStock(product.ID, product.Name, product.StockQuantity, line.Quantity)
		}
	}
	return nil
}

// IsAvailable проверяет наличие одного товара в нужном количестве.
func (m *Manager) IsAvailable(ctx context.Context, productID string, quantity int64) (bool, error) {
	err := m.CheckAvailability(ctx, []domain.StockRequest{{ProductID: productID, Quantity: quantity}})
	if err == nil {
		return true, nil
	}
	if domain.IsKind(err, domain.KindInsufficientStock) {
		return false, nil
	}
	return false, err
}

// Commit повторно проверяет наличие и атомарно списывает остатки по всем позициям.
// Если между проверкой и списанием остаток увёл конкурентный заказ, возвращается
// InsufficientStock, а остатки не меняются.
func (m *Manager) Commit(ctx context.Context, lines []domain.StockRequest) error {
	if err := m.CheckAvailability(ctx, lines); err != nil {
		return err
	}

	err := m.products.DecrementStock(ctx, lines)
	if err == nil {
		m.logger.WithField("lines", len(lines)).Debug("stock committed")
		return nil
	}

	var shortage *domain.StockShortage
	if errors.As(err, &shortage) {
		name := shortage.ProductID
		if product, getErr := m.products.Get(ctx, shortage.ProductID); getErr == nil {
			name = product.Name
		}
		m.logger.WithFields(log.Fields{
			"product_id": shortage.ProductID,
			"available":  shortage.Available,
			"requested":  shortage.Requested,
		}).Warn("stock commit lost race")
		return domain.InsufficientStock(shortage.ProductID, name, shortage.Available, shortage.Requested)
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.NotFound("Product", "", err)
	}
	return fmt.Errorf("decrement stock: %w", err)
}

func (m *Manager) loadProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := m.products.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Product{}, domain.NotFound("Product", id, err)
		}
		return domain.Product{}, fmt.Errorf("load product %s: %w", id, err)
	}
	return product, nil
}
