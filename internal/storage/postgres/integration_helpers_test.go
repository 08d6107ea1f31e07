package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// testDSNEnv задаёт DSN тестовой базы. Без него интеграционные тесты пропускаются.
const testDSNEnv = "SHOP_TEST_POSTGRES_DSN"

func openPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	truncateAllTablesForIntegrationTest(t, store)

	return store
}

func openRawPostgresStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set, skipping postgres integration test", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func truncateAllTablesForIntegrationTest(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			order_timeline,
			order_lines,
			orders,
			products,
			customers
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
}

// seedCatalog создаёт клиента и товары для тестов заказов.
func seedCatalog(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()

	customers := NewCustomerRepository(store)
	for _, c := range []domain.Customer{
		{ID: "customer-1", Name: "Ana", Email: "ana@example.com"},
		{ID: "customer-2", Name: "Bruno", Email: "bruno@example.com"},
	} {
		if err := customers.Create(ctx, c); err != nil {
			t.Fatalf("seed customer %s: %v", c.ID, err)
		}
	}

	products := NewProductRepository(store)
	for _, p := range []domain.Product{
		{ID: "sku-1", Name: "Notebook", Price: domain.MustMoney("899.99"), StockQuantity: 10},
		{ID: "sku-2", Name: "Mouse", Price: domain.MustMoney("49.90"), StockQuantity: 3},
	} {
		if err := products.Create(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}
}

func sampleOrder(id, customerID string, status domain.OrderStatus, createdAt time.Time) domain.Order {
	lines := []domain.OrderLine{
		{ID: id + "-line-1", ProductID: "sku-1", ProductName: "Notebook", Quantity: 1, UnitPrice: domain.MustMoney("899.99"), CreatedAt: createdAt},
		{ID: id + "-line-2", ProductID: "sku-2", ProductName: "Mouse", Quantity: 2, UnitPrice: domain.MustMoney("49.90"), CreatedAt: createdAt},
	}
	order := domain.Order{
		ID:         id,
		CustomerID: customerID,
		Status:     status,
		Lines:      lines,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	order.TotalAmount = order.LinesTotal()
	return order
}
