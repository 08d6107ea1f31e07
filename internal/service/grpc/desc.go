package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса заказов.
const ServiceName = "shop.v1.OrderService"

const (
	MethodCreateOrder          = "/" + ServiceName + "/CreateOrder"
	MethodGetOrder             = "/" + ServiceName + "/GetOrder"
	MethodListOrders           = "/" + ServiceName + "/ListOrders"
	MethodListOrdersByCustomer = "/" + ServiceName + "/ListOrdersByCustomer"
	MethodProcessPayment       = "/" + ServiceName + "/ProcessPayment"
	MethodCancelOrder          = "/" + ServiceName + "/CancelOrder"
	MethodGetOrderTimeline     = "/" + ServiceName + "/GetOrderTimeline"
	MethodGetMonthlyRevenue    = "/" + ServiceName + "/GetMonthlyRevenue"
	MethodGetTopCustomers      = "/" + ServiceName + "/GetTopCustomers"
	MethodGetAverageTicket     = "/" + ServiceName + "/GetAverageTicket"
	MethodGetCurrentRevenue    = "/" + ServiceName + "/GetCurrentMonthRevenue"
	MethodGetPerformance       = "/" + ServiceName + "/GetPerformanceReport"
)

// OrderServiceServer — серверная сторона shop.v1.OrderService.
// Запросы и ответы передаются как google.protobuf.Struct.
type OrderServiceServer interface {
	CreateOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrdersByCustomer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProcessPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderTimeline(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMonthlyRevenue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTopCustomers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAverageTicket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCurrentMonthRevenue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPerformanceReport(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// OrderServiceDesc описывает сервис для grpc.Server.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(MethodCreateOrder, OrderServiceServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: "ListOrdersByCustomer", Handler: unaryHandler(MethodListOrdersByCustomer, OrderServiceServer.ListOrdersByCustomer)},
		{MethodName: "ProcessPayment", Handler: unaryHandler(MethodProcessPayment, OrderServiceServer.ProcessPayment)},
		{MethodName: "CancelOrder", Handler: unaryHandler(MethodCancelOrder, OrderServiceServer.CancelOrder)},
		{MethodName: "GetOrderTimeline", Handler: unaryHandler(MethodGetOrderTimeline, OrderServiceServer.GetOrderTimeline)},
		{MethodName: "GetMonthlyRevenue", Handler: unaryHandler(MethodGetMonthlyRevenue, OrderServiceServer.GetMonthlyRevenue)},
		{MethodName: "GetTopCustomers", Handler: unaryHandler(MethodGetTopCustomers, OrderServiceServer.GetTopCustomers)},
		{MethodName: "GetAverageTicket", Handler: unaryHandler(MethodGetAverageTicket, OrderServiceServer.GetAverageTicket)},
		{MethodName: "GetCurrentMonthRevenue", Handler: unaryHandler(MethodGetCurrentRevenue, OrderServiceServer.GetCurrentMonthRevenue)},
		{MethodName: "GetPerformanceReport", Handler: unaryHandler(MethodGetPerformance, OrderServiceServer.GetPerformanceReport)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shop/v1/order_service",
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient — клиент shop.v1.OrderService.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCreateOrder, in, opts...)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetOrder, in, opts...)
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListOrders, in, opts...)
}

func (c *OrderServiceClient) ListOrdersByCustomer(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListOrdersByCustomer, in, opts...)
}

func (c *OrderServiceClient) ProcessPayment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodProcessPayment, in, opts...)
}

func (c *OrderServiceClient) CancelOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCancelOrder, in, opts...)
}

func (c *OrderServiceClient) GetOrderTimeline(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetOrderTimeline, in, opts...)
}

func (c *OrderServiceClient) GetMonthlyRevenue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetMonthlyRevenue, in, opts...)
}

func (c *OrderServiceClient) GetTopCustomers(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetTopCustomers, in, opts...)
}

func (c *OrderServiceClient) GetAverageTicket(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetAverageTicket, in, opts...)
}

func (c *OrderServiceClient) GetCurrentMonthRevenue(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetCurrentRevenue, in, opts...)
}

func (c *OrderServiceClient) GetPerformanceReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetPerformance, in, opts...)
}
