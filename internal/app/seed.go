package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// Демо-каталог для локального запуска и нагрузочного теста.
var (
	demoCustomers = []domain.Customer{
		{ID: "customer-1", Name: "Ana Souza", Email: "ana@example.com"},
		{ID: "customer-2", Name: "Bruno Lima", Email: "bruno@example.com"},
		{ID: "customer-3", Name: "Carla Mendes", Email: "carla@example.com"},
	}
	demoProducts = []domain.Product{
		{ID: "sku-notebook", Name: "Notebook", Price: domain.MustMoney("899.99"), StockQuantity: 50},
		{ID: "sku-mouse", Name: "Mouse", Price: domain.MustMoney("49.90"), StockQuantity: 1000},
		{ID: "sku-keyboard", Name: "Keyboard", Price: domain.MustMoney("129.00"), StockQuantity: 300},
		{ID: "sku-monitor", Name: "Monitor 27\"", Price: domain.MustMoney("1499.00"), StockQuantity: 20},
	}
)

// seedDemoCatalog создаёт демо-клиентов и товары; существующие записи не трогает.
func seedDemoCatalog(ctx context.Context, customers domain.CustomerRepository, products domain.ProductRepository, logger *log.Entry) error {
	created := 0
	for _, c := range demoCustomers {
		err := customers.Create(ctx, c)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrCustomerAlreadyExists):
		default:
			return fmt.Errorf("seed customer %s: %w", c.ID, err)
		}
	}
	for _, p := range demoProducts {
		err := products.Create(ctx, p)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrProductAlreadyExists):
		default:
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	logger.WithField("created", created).Info("demo catalog seeded")
	return nil
}
