package grpcsvc

import (
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/report"
)

func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

func requiredString(req *structpb.Struct, name string) (string, error) {
	value := stringField(req, name)
	if value == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return value, nil
}

// intField читает целое число; отсутствующее поле даёт def.
func intField(req *structpb.Struct, name string, def int64) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return def, nil
	}
	if _, isNumber := v.GetKind().(*structpb.Value_NumberValue); !isNumber {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int64(n), nil
}

func lineRequests(req *structpb.Struct) ([]domain.LineRequest, error) {
	items := req.GetFields()["items"].GetListValue().GetValues()
	out := make([]domain.LineRequest, 0, len(items))
	for idx, item := range items {
		fields := item.GetStructValue()
		if fields == nil {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d] must be an object", idx)
		}
		qty, err := intField(fields, "quantity", 0)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "items[%d]: %s", idx, status.Convert(err).Message())
		}
		out = append(out, domain.LineRequest{
			ProductID: stringField(fields, "product_id"),
			Quantity:  qty,
		})
	}
	return out, nil
}

func pageFromRequest(req *structpb.Struct) (domain.Page, error) {
	number, err := intField(req, "page", 0)
	if err != nil {
		return domain.Page{}, err
	}
	size, err := intField(req, "page_size", domain.DefaultPageSize)
	if err != nil {
		return domain.Page{}, err
	}
	if number < 0 || size < 0 {
		return domain.Page{}, status.Error(codes.InvalidArgument, "page and page_size must be non-negative")
	}
	return domain.Page{Number: int(number), Size: int(size)}.Normalize(), nil
}

func orderFields(order domain.Order) map[string]any {
	lines := make([]any, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, map[string]any{
			"product_id":   line.ProductID,
			"product_name": line.ProductName,
			"quantity":     line.Quantity,
			"unit_price":   line.UnitPrice.String(),
			"subtotal":     line.Subtotal().String(),
		})
	}
	return map[string]any{
		"id":           order.ID,
		"customer_id":  order.CustomerID,
		"status":       string(order.Status),
		"total_amount": order.TotalAmount.String(),
		"version":      order.Version,
		"created_at":   formatTime(order.CreatedAt),
		"updated_at":   formatTime(order.UpdatedAt),
		"lines":        lines,
	}
}

func orderPageFields(page domain.PageResult[domain.Order]) map[string]any {
	orders := make([]any, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, orderFields(order))
	}
	return map[string]any{
		"orders":    orders,
		"total":     page.Total,
		"page":      page.Number,
		"page_size": page.Size,
	}
}

func timelineFields(orderID string, events []domain.TimelineEvent) map[string]any {
	out := make([]any, 0, len(events))
	for _, event := range events {
		item := map[string]any{
			"type":        event.Type,
			"occurred_at": formatTime(event.Occurred),
		}
		if event.Status != "" {
			item["status"] = string(event.Status)
		}
		if event.Reason != "" {
			item["reason"] = event.Reason
		}
		out = append(out, item)
	}
	return map[string]any{"order_id": orderID, "events": out}
}

func topCustomersFields(rows []domain.CustomerSpend) map[string]any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"customer_id":   row.CustomerID,
			"customer_name": row.CustomerName,
			"order_count":   row.OrderCount,
			"total_spent":   row.TotalSpent.String(),
		})
	}
	return map[string]any{"customers": out}
}

func ticketFields(rows []domain.CustomerTicket) map[string]any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"customer_id":    row.CustomerID,
			"customer_name":  row.CustomerName,
			"average_ticket": row.AverageTicket.String(),
		})
	}
	return map[string]any{"tickets": out}
}

func performanceFields(rep report.PerformanceReport) map[string]any {
	return map[string]any{
		"year":            rep.Year,
		"month":           rep.Month,
		"revenue":         rep.Revenue.String(),
		"approved_orders": rep.ApprovedOrders,
		"average_ticket":  rep.AverageTicket.String(),
		"top_customers":   topCustomersFields(rep.TopCustomers)["customers"],
		"tickets":         ticketFields(rep.Tickets)["tickets"],
		"generated_at":    formatTime(rep.GeneratedAt),
	}
}

func toStruct(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
