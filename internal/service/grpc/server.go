package grpcsvc

import (
	"context"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Server объединяет gRPC-сервер и его health-сервис.
type Server struct {
	GRPC   *grpc.Server
	Health *health.Server
}

// NewServer собирает gRPC-сервер с метриками go-grpc-prometheus, логированием
// вызовов, reflection и grpc.health.v1.
func NewServer(svc OrderServiceServer, registerer prometheus.Registerer, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.New().WithField("component", "grpc")
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serverMetrics := promgrpc.NewServerMetrics()
	if err := registerer.Register(serverMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				serverMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		serverMetrics.UnaryServerInterceptor(),
		loggingInterceptor(logger),
	))
	RegisterOrderServiceServer(srv, svc)
	serverMetrics.InitializeMetrics(srv)
	reflection.Register(srv)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthServer)

	return &Server{GRPC: srv, Health: healthServer}
}

// Stop переводит health в NOT_SERVING и останавливает сервер, дожидаясь
// активных вызовов не дольше timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.Health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.GRPC.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		s.GRPC.Stop()
	}
}

func loggingInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		entry := logger.WithFields(log.Fields{
			"method":   info.FullMethod,
			"code":     code.String(),
			"duration": time.Since(start),
		})
		if code == codes.Internal || code == codes.Unknown {
			entry.WithError(err).Warn("grpc call failed")
		} else {
			entry.Debug("grpc call")
		}
		return resp, err
	}
}
