package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func newCatalog(t *testing.T, products ...domain.Product) domain.ProductRepository {
	t.Helper()
	repo := memory.NewProductRepository()
	for _, p := range products {
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatalf("seed product failed: %v", err)
		}
	}
	return repo
}

// racingRepo эмулирует конкурентное списание между проверкой и Commit.
type racingRepo struct {
	domain.ProductRepository
	decrementErr error
}

func (r *racingRepo) DecrementStock(ctx context.Context, lines []domain.StockRequest) error {
	if r.decrementErr != nil {
		return r.decrementErr
	}
	return r.ProductRepository.DecrementStock(ctx, lines)
}

func TestCheckAvailability_FirstShortfallWins(t *testing.T) {
	repo := newCatalog(t,
		domain.Product{ID: "a", Name: "Notebook", StockQuantity: 1},
		domain.Product{ID: "b", Name: "Mouse", StockQuantity: 0},
		domain.Product{ID: "c", Name: "Monitor", StockQuantity: 0},
	)
	m := NewManager(repo, nil)

	err := m.CheckAvailability(context.Background(), []domain.StockRequest{
		{ProductID: "a", Quantity: 1},
		{ProductID: "b", Quantity: 2},
		{ProductID: "c", Quantity: 3},
	})
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if de.ProductID != "b" || de.ProductName != "Mouse" || de.Available != 0 || de.Requested != 2 {
		t.Fatalf("unexpected payload: %+v", de)
	}
}

func TestCheckAvailability_MissingProduct(t *testing.T) {
	m := NewManager(newCatalog(t), nil)
	err := m.CheckAvailability(context.Background(), []domain.StockRequest{{ProductID: "ghost", Quantity: 1}})
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindNotFound || de.EntityType != "Product" || de.ID != "ghost" {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestIsAvailable(t *testing.T) {
	m := NewManager(newCatalog(t, domain.Product{ID: "a", Name: "A", StockQuantity: 3}), nil)
	ctx := context.Background()

	ok, err := m.IsAvailable(ctx, "a", 3)
	if err != nil || !ok {
		t.Fatalf("expected available, got %v %v", ok, err)
	}
	ok, err = m.IsAvailable(ctx, "a", 4)
	if err != nil || ok {
		t.Fatalf("expected unavailable without error, got %v %v", ok, err)
	}
	if _, err = m.IsAvailable(ctx, "missing", 1); !domain.IsKind(err, domain.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommit_DecrementsStock(t *testing.T) {
	repo := newCatalog(t, domain.Product{ID: "a", Name: "A", StockQuantity: 5})
	m := NewManager(repo, nil)
	ctx := context.Background()

	if err := m.Commit(ctx, []domain.StockRequest{{ProductID: "a", Quantity: 2}}); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	p, _ := repo.Get(ctx, "a")
	if p.StockQuantity != 3 {
		t.Fatalf("expected stock 3, got %d", p.StockQuantity)
	}
}

func TestCommit_LostRaceBecomesInsufficientStock(t *testing.T) {
	base := newCatalog(t, domain.Product{ID: "a", Name: "Notebook", StockQuantity: 5})
	repo := &racingRepo{
		ProductRepository: base,
		decrementErr:      &domain.StockShortage{ProductID: "a", Available: 0, Requested: 2},
	}
	m := NewManager(repo, nil)

	err := m.Commit(context.Background(), []domain.StockRequest{{ProductID: "a", Quantity: 2}})
	de, ok := domain.AsError(err)
	if !ok || de.Kind != domain.KindInsufficientStock || de.ProductName != "Notebook" || de.Available != 0 {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestCommit_InfrastructureError(t *testing.T) {
	boom := errors.New("db down")
	base := newCatalog(t, domain.Product{ID: "a", Name: "A", StockQuantity: 5})
	m := NewManager(&racingRepo{ProductRepository: base, decrementErr: boom}, nil)

	err := m.Commit(context.Background(), []domain.StockRequest{{ProductID: "a", Quantity: 1}})
	if !errors.Is(err, boom) || domain.KindOf(err) != "" {
		t.Fatalf("expected wrapped infrastructure error, got %v", err)
	}
}
