package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, stock_quantity, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		product.ID, product.Name, product.Price.Minor(), product.StockQuantity,
		product.Version, product.CreatedAt, now,
	); err != nil {
		switch {
		case isUniqueViolation(err):
			return domain.ErrProductAlreadyExists
		case isCheckViolation(err):
			return domain.Validation("product", product.ID, "price and stock must be non-negative")
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		product domain.Product
		price   int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, stock_quantity, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&product.ID, &product.Name, &price, &product.StockQuantity, &product.Version, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Price = domain.Money(price)
	return product, nil
}

func (r *productRepository) Save(ctx context.Context, product domain.Product) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var saved domain.Product
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		saved, err = saveProductTx(ctx, tx, product)
		return err
	})
	if err != nil {
		return domain.Product{}, err
	}
	return saved, nil
}

// SaveAll сохраняет набор товаров в одной транзакции.
func (r *productRepository) SaveAll(ctx context.Context, products []domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, product := range products {
			if _, err := saveProductTx(ctx, tx, product); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecrementStock списывает остатки условными UPDATE в одной транзакции.
// Строки блокируются в порядке id, чтобы параллельные списания не взаимоблокировались.
func (r *productRepository) DecrementStock(ctx context.Context, lines []domain.StockRequest) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lines = domain.AggregateStock(lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, line := range lines {
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock_quantity = stock_quantity - $1,
				    version = version + 1,
				    updated_at = $3
				WHERE id = $2
				  AND stock_quantity >= $1
			`, line.Quantity, line.ProductID, now)
			if err != nil {
				return fmt.Errorf("decrement stock %s: %w", line.ProductID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 1 {
				continue
			}

			var available int64
			err = tx.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, line.ProductID).Scan(&available)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrProductNotFound
			}
			if err != nil {
				return fmt.Errorf("read stock %s: %w", line.ProductID, err)
			}
			return &domain.StockShortage{ProductID: line.ProductID, Available: available, Requested: line.Quantity}
		}
		return nil
	})
}

func saveProductTx(ctx context.Context, tx *sql.Tx, product domain.Product) (domain.Product, error) {
	now := time.Now().UTC()
	err := tx.QueryRowContext(ctx, `
		UPDATE products
		SET name = $1,
		    price_minor = $2,
		    stock_quantity = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
		RETURNING version, created_at
	`,
		product.Name, product.Price.Minor(), product.StockQuantity, now, product.ID, product.Version,
	).Scan(&product.Version, &product.CreatedAt)
	if err == nil {
		product.UpdatedAt = now
		return product, nil
	}
	if isCheckViolation(err) {
		return domain.Product{}, domain.Validation("product", product.ID, "price and stock must be non-negative")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("update product: %w", err)
	}

	var found bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, product.ID).Scan(&found); err != nil {
		return domain.Product{}, fmt.Errorf("check product exists: %w", err)
	}
	if !found {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return domain.Product{}, domain.ErrProductVersionConflict
}

var _ domain.ProductRepository = (*productRepository)(nil)
