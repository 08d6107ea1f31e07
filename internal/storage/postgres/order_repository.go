package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const orderColumns = `id, customer_id, status, total_minor, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			order.ID, order.CustomerID, string(order.Status), order.TotalAmount.Minor(),
			order.Version, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, line := range order.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_lines (
					id, order_id, position, product_id, product_name, quantity, unit_price, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				line.ID, order.ID, i, line.ProductID, line.ProductName,
				line.Quantity, line.UnitPrice.Minor(), line.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if err := r.attachLines(ctx, []*domain.Order{&order}); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Save обновляет статус заказа. Позиции и сумма после создания не меняются.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var version int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
		  AND version = $4
		RETURNING version
	`,
		string(order.Status), order.UpdatedAt, order.ID, order.Version,
	).Scan(&version)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, fmt.Errorf("update order: %w", err)
		}
		exists, existsErr := r.exists(ctx, order.ID)
		if existsErr != nil {
			return domain.Order{}, existsErr
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	saved := order.Clone()
	saved.Version = version
	return saved, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, page domain.Page) (domain.PageResult[domain.Order], error) {
	return r.listPage(ctx, page, `WHERE customer_id = $1`, customerID)
}

func (r *orderRepository) List(ctx context.Context, page domain.Page) (domain.PageResult[domain.Order], error) {
	return r.listPage(ctx, page, "")
}

func (r *orderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC, id DESC
	`, string(status))
}

func (r *orderRepository) ListByDateRange(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, start, end)
}

func (r *orderRepository) TopCustomers(ctx context.Context, limit int) ([]domain.CustomerSpend, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = domain.MaxPageSize
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT o.customer_id, COALESCE(c.name, ''), COUNT(*), SUM(o.total_minor)
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.status = 'approved'
		GROUP BY o.customer_id, c.name
		ORDER BY SUM(o.total_minor) DESC, o.customer_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top customers: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CustomerSpend, 0, limit)
	for rows.Next() {
		var (
			row   domain.CustomerSpend
			total int64
		)
		if err := rows.Scan(&row.CustomerID, &row.CustomerName, &row.OrderCount, &total); err != nil {
			return nil, fmt.Errorf("scan top customer: %w", err)
		}
		row.TotalSpent = domain.Money(total)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top customers: %w", err)
	}
	return result, nil
}

func (r *orderRepository) AverageTicketByCustomer(ctx context.Context) ([]domain.CustomerTicket, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// ROUND над numeric округляет половину от нуля, как decimal.Round в памяти.
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.customer_id, COALESCE(c.name, ''), ROUND(AVG(o.total_minor))::BIGINT
		FROM orders o
		LEFT JOIN customers c ON c.id = o.customer_id
		WHERE o.status = 'approved'
		GROUP BY o.customer_id, c.name
		ORDER BY COALESCE(c.name, '') ASC, o.customer_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query average ticket: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CustomerTicket, 0)
	for rows.Next() {
		var (
			row domain.CustomerTicket
			avg int64
		)
		if err := rows.Scan(&row.CustomerID, &row.CustomerName, &avg); err != nil {
			return nil, fmt.Errorf("scan average ticket: %w", err)
		}
		row.AverageTicket = domain.Money(avg)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate average ticket: %w", err)
	}
	return result, nil
}

func (r *orderRepository) MonthlyRevenue(ctx context.Context, year, month int) (domain.Money, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	var total int64
	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_minor), 0)::BIGINT
		FROM orders
		WHERE status = 'approved'
		  AND created_at >= $1 AND created_at < $2
	`, start, start.AddDate(0, 1, 0)).Scan(&total); err != nil {
		return 0, fmt.Errorf("query monthly revenue: %w", err)
	}
	return domain.Money(total), nil
}

func (r *orderRepository) listPage(ctx context.Context, page domain.Page, where string, args ...any) (domain.PageResult[domain.Order], error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	page = page.Normalize()
	result := domain.PageResult[domain.Order]{Number: page.Number, Size: page.Size}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&result.Total); err != nil {
		return domain.PageResult[domain.Order]{}, fmt.Errorf("count orders: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, where, n+1, n+2)
	orders, err := r.queryOrders(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return domain.PageResult[domain.Order]{}, err
	}
	result.Items = orders
	return result, nil
}

func (r *orderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	ptrs := make([]*domain.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := r.attachLines(ctx, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachLines подгружает позиции всех заказов одним запросом.
func (r *orderRepository) attachLines(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		o.Lines = make([]domain.OrderLine, 0)
		byID[o.ID] = o
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, quantity, unit_price, created_at
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			line    domain.OrderLine
			price   int64
		)
		if err := rows.Scan(&orderID, &line.ID, &line.ProductID, &line.ProductName, &line.Quantity, &price, &line.CreatedAt); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		line.UnitPrice = domain.Money(price)
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order lines: %w", err)
	}
	return nil
}

func (r *orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var found bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&found); err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return found, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		total  int64
	)
	if err := row.Scan(&order.ID, &order.CustomerID, &status, &total, &order.Version, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.TotalAmount = domain.Money(total)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
