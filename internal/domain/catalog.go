package domain

import "time"

// Product — товар каталога с остатком на единственном складе.
type Product struct {
	ID            string
	Name          string
	Price         Money
	StockQuantity int64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Customer — покупатель. В рамках сервиса только читается.
type Customer struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// StockRequest — запрошенное количество конкретного товара.
type StockRequest struct {
	ProductID string
	Quantity  int64
}

// AggregateStock суммирует запросы по одному товару, сохраняя порядок первого вхождения.
func AggregateStock(lines []StockRequest) []StockRequest {
	index := make(map[string]int, len(lines))
	out := make([]StockRequest, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}
