package grpcsvc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/shop/internal/service/grpc"
	"github.com/vladislavdragonenkov/shop/internal/service/inventory"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/payment"
	"github.com/vladislavdragonenkov/shop/internal/service/report"
	"github.com/vladislavdragonenkov/shop/internal/service/validation"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

const bufSize = 1024 * 1024

type GRPCSuite struct {
	suite.Suite

	ctx      context.Context
	products domain.ProductRepository
	gateway  *payment.MockGateway
	server   *grpcsvc.Server
	conn     *grpc.ClientConn
	client   *grpcsvc.OrderServiceClient
}

func TestGRPCSuite(t *testing.T) {
	suite.Run(t, new(GRPCSuite))
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logger.WithField("component", "test")
}

func (s *GRPCSuite) SetupTest() {
	s.ctx = context.Background()
	logger := quietLogger()
	registry := prometheus.NewRegistry()

	customers := memory.NewCustomerRepository()
	s.products = memory.NewProductRepository()
	orders := memory.NewOrderRepository(customers)
	s.gateway = payment.NewMockGateway()

	s.Require().NoError(customers.Create(s.ctx, domain.Customer{ID: "C1", Name: "Ana Souza"}))
	s.Require().NoError(s.products.Create(s.ctx, domain.Product{ID: "P1", Name: "Notebook", Price: domain.MustMoney("899.99"), StockQuantity: 3}))

	validator := validation.New()
	orderSvc, err := order.NewService(order.Deps{
		Orders:    orders,
		Products:  s.products,
		Customers: customers,
		Timeline:  memory.NewTimelineRepository(),
		Outbox:    memory.NewOutboxRepository(),
		Validator: validator,
		Inventory: inventory.NewManager(s.products, logger),
		Payments:  payment.NewProcessor(s.gateway, logger),
	}, order.WithLogger(logger), order.WithMetrics(metrics.NewOrderMetricsWithRegisterer(registry)))
	s.Require().NoError(err)

	reportSvc, err := report.NewService(orders, validator, report.WithCacheTTL(time.Hour))
	s.Require().NoError(err)

	api, err := grpcsvc.NewOrderService(orderSvc, reportSvc,
		grpcsvc.WithLogger(logger),
		grpcsvc.WithIdempotency(memory.NewIdempotencyRepository(), 0),
		grpcsvc.WithIdempotencyMetrics(metrics.NewIdempotencyMetricsWithRegisterer(registry)),
	)
	s.Require().NoError(err)

	listener := bufconn.Listen(bufSize)
	s.server = grpcsvc.NewServer(api, registry, logger)
	go func() { _ = s.server.GRPC.Serve(listener) }()

	s.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.client = grpcsvc.NewOrderServiceClient(s.conn)
}

func (s *GRPCSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.GRPC.Stop()
}

func (s *GRPCSuite) request(fields map[string]any) *structpb.Struct {
	req, err := structpb.NewStruct(fields)
	s.Require().NoError(err)
	return req
}

func (s *GRPCSuite) createOrder(ctx context.Context, qty int) *structpb.Struct {
	resp, err := s.client.CreateOrder(ctx, s.request(map[string]any{
		"customer_id": "C1",
		"items":       []any{map[string]any{"product_id": "P1", "quantity": qty}},
	}))
	s.Require().NoError(err)
	return resp
}

func (s *GRPCSuite) requireCode(err error, code codes.Code) {
	s.Require().Error(err)
	s.Require().Equal(code, status.Code(err), "unexpected status: %v", err)
}

func field(resp *structpb.Struct, name string) string {
	return resp.GetFields()[name].GetStringValue()
}

func withKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), grpcsvc.IdempotencyKeyHeader, key)
}

func (s *GRPCSuite) TestCreateAndGetOrder() {
	created := s.createOrder(s.ctx, 2)
	s.Equal("pending", field(created, "status"))
	s.Equal("1799.98", field(created, "total_amount"))

	lines := created.GetFields()["lines"].GetListValue().GetValues()
	s.Require().Len(lines, 1)
	s.Equal("Notebook", field(lines[0].GetStructValue(), "product_name"))

	got, err := s.client.GetOrder(s.ctx, s.request(map[string]any{"order_id": field(created, "id")}))
	s.Require().NoError(err)
	s.Equal(field(created, "id"), field(got, "id"))
}

func (s *GRPCSuite) TestErrorMapping() {
	_, err := s.client.GetOrder(s.ctx, s.request(map[string]any{"order_id": "missing"}))
	s.requireCode(err, codes.NotFound)

	_, err = s.client.GetOrder(s.ctx, s.request(map[string]any{}))
	s.requireCode(err, codes.InvalidArgument)

	_, err = s.client.CreateOrder(s.ctx, s.request(map[string]any{"customer_id": "C1", "items": []any{}}))
	s.requireCode(err, codes.InvalidArgument)

	_, err = s.client.CreateOrder(s.ctx, s.request(map[string]any{
		"customer_id": "C1",
		"items":       []any{map[string]any{"product_id": "P1", "quantity": 1.5}},
	}))
	s.requireCode(err, codes.InvalidArgument)

	_, err = s.client.CreateOrder(s.ctx, s.request(map[string]any{
		"customer_id": "C1",
		"items":       []any{map[string]any{"product_id": "P1", "quantity": 4}},
	}))
	s.requireCode(err, codes.FailedPrecondition)

	_, err = s.client.GetMonthlyRevenue(s.ctx, s.request(map[string]any{"year": 2025, "month": 13}))
	s.requireCode(err, codes.InvalidArgument)
}

func (s *GRPCSuite) TestPaymentCancellationAndTimeline() {
	created := s.createOrder(s.ctx, 1)
	orderID := field(created, "id")

	paid, err := s.client.ProcessPayment(s.ctx, s.request(map[string]any{"order_id": orderID}))
	s.Require().NoError(err)
	s.Equal("approved", field(paid, "status"))

	_, err = s.client.CancelOrder(s.ctx, s.request(map[string]any{"order_id": orderID}))
	s.requireCode(err, codes.FailedPrecondition)

	timeline, err := s.client.GetOrderTimeline(s.ctx, s.request(map[string]any{"order_id": orderID}))
	s.Require().NoError(err)
	events := timeline.GetFields()["events"].GetListValue().GetValues()
	s.Require().Len(events, 2)
	s.Equal(domain.EventOrderCreated, field(events[0].GetStructValue(), "type"))
	s.Equal(domain.EventOrderApproved, field(events[1].GetStructValue(), "type"))
}

func (s *GRPCSuite) TestShortageReportsMutatedOrder() {
	created := s.createOrder(s.ctx, 3)

	p, err := s.products.Get(s.ctx, "P1")
	s.Require().NoError(err)
	p.StockQuantity = 1
	_, err = s.products.Save(s.ctx, p)
	s.Require().NoError(err)

	_, err = s.client.ProcessPayment(s.ctx, s.request(map[string]any{"order_id": field(created, "id")}))
	s.requireCode(err, codes.FailedPrecondition)
	s.Contains(status.Convert(err).Message(), "order_mutated")

	got, err := s.client.GetOrder(s.ctx, s.request(map[string]any{"order_id": field(created, "id")}))
	s.Require().NoError(err)
	s.Equal("cancelled", field(got, "status"))
}

func (s *GRPCSuite) TestIdempotentCreateReplaysResponse() {
	first := s.createOrder(withKey("create-1"), 1)
	second := s.createOrder(withKey("create-1"), 1)
	s.Equal(field(first, "id"), field(second, "id"))

	list, err := s.client.ListOrders(s.ctx, s.request(map[string]any{}))
	s.Require().NoError(err)
	s.Equal(float64(1), list.GetFields()["total"].GetNumberValue())

	_, err = s.client.CreateOrder(withKey("create-1"), s.request(map[string]any{
		"customer_id": "C1",
		"items":       []any{map[string]any{"product_id": "P1", "quantity": 2}},
	}))
	s.requireCode(err, codes.AlreadyExists)
}

func (s *GRPCSuite) TestIdempotentPaymentCallsGatewayOnce() {
	created := s.createOrder(s.ctx, 1)
	req := s.request(map[string]any{"order_id": field(created, "id")})

	first, err := s.client.ProcessPayment(withKey("pay-1"), req)
	s.Require().NoError(err)
	second, err := s.client.ProcessPayment(withKey("pay-1"), req)
	s.Require().NoError(err)

	s.Equal(field(first, "status"), field(second, "status"))
	s.Equal(1, s.gateway.CallCount())
}

func (s *GRPCSuite) TestIdempotentFailureIsReplayed() {
	req := s.request(map[string]any{"order_id": "missing"})
	_, err := s.client.CancelOrder(withKey("cancel-1"), req)
	s.requireCode(err, codes.NotFound)

	_, err = s.client.CancelOrder(withKey("cancel-1"), req)
	s.requireCode(err, codes.NotFound)
}

func (s *GRPCSuite) TestListingAndReports() {
	before, err := s.client.GetCurrentMonthRevenue(s.ctx, s.request(map[string]any{}))
	s.Require().NoError(err)
	s.Equal("0.00", field(before, "revenue"))

	for i := 0; i < 3; i++ {
		created := s.createOrder(s.ctx, 1)
		_, err := s.client.ProcessPayment(s.ctx, s.request(map[string]any{"order_id": field(created, "id")}))
		s.Require().NoError(err)
	}

	page, err := s.client.ListOrdersByCustomer(s.ctx, s.request(map[string]any{"customer_id": "C1", "page": 0, "page_size": 2}))
	s.Require().NoError(err)
	s.Len(page.GetFields()["orders"].GetListValue().GetValues(), 2)
	s.Equal(float64(3), page.GetFields()["total"].GetNumberValue())

	top, err := s.client.GetTopCustomers(s.ctx, s.request(map[string]any{"limit": 5}))
	s.Require().NoError(err)
	customers := top.GetFields()["customers"].GetListValue().GetValues()
	s.Require().Len(customers, 1)
	s.Equal("2699.97", field(customers[0].GetStructValue(), "total_spent"))

	tickets, err := s.client.GetAverageTicket(s.ctx, s.request(map[string]any{}))
	s.Require().NoError(err)
	rows := tickets.GetFields()["tickets"].GetListValue().GetValues()
	s.Require().Len(rows, 1)
	s.Equal("899.99", field(rows[0].GetStructValue(), "average_ticket"))

	current, err := s.client.GetCurrentMonthRevenue(s.ctx, s.request(map[string]any{}))
	s.Require().NoError(err)
	s.Equal("2699.97", field(current, "revenue"), "approval must invalidate cached revenue")

	now := time.Now().UTC()
	perf, err := s.client.GetPerformanceReport(s.ctx, s.request(map[string]any{"year": now.Year(), "month": int(now.Month())}))
	s.Require().NoError(err)
	s.Equal("2699.97", field(perf, "revenue"))
	s.Equal("899.99", field(perf, "average_ticket"))
	s.Equal(float64(3), perf.GetFields()["approved_orders"].GetNumberValue())
	s.Len(perf.GetFields()["top_customers"].GetListValue().GetValues(), 1)

	_, err = s.client.GetPerformanceReport(s.ctx, s.request(map[string]any{"year": now.Year(), "month": 13}))
	s.requireCode(err, codes.InvalidArgument)
}

func (s *GRPCSuite) TestHealthService() {
	resp, err := healthpb.NewHealthClient(s.conn).Check(s.ctx, &healthpb.HealthCheckRequest{Service: grpcsvc.ServiceName})
	s.Require().NoError(err)
	s.Equal(healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
