package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/shop/internal/service/grpc"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/inventory"
	"github.com/vladislavdragonenkov/shop/internal/service/order"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/service/payment"
	"github.com/vladislavdragonenkov/shop/internal/service/report"
	"github.com/vladislavdragonenkov/shop/internal/service/validation"
	"github.com/vladislavdragonenkov/shop/internal/tracing"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

// dispatchedOrders направляет оплаты через Dispatcher, остальные операции
// идут напрямую в сервис заказов.
type dispatchedOrders struct {
	*order.Service
	dispatcher *order.Dispatcher
}

func (d dispatchedOrders) ProcessPayment(ctx context.Context, orderID string) (domain.Order, error) {
	return d.dispatcher.ProcessPayment(ctx, orderID)
}

// Run поднимает сервис заказов и блокируется до отмены ctx или падения gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	return run(ctx, cfg, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

func run(ctx context.Context, cfg Config, registerer prometheus.Registerer, gatherer prometheus.Gatherer) error {
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		ServiceVersion: version.Version(),
	}, logger.WithField("layer", "tracing"))
	if err != nil {
		logger.WithError(err).Warn("failed to init tracing, continuing without export")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedDemoData {
		if err := seedDemoCatalog(ctx, deps.customers, deps.products, logger.WithField("layer", "seed")); err != nil {
			return err
		}
	}

	// Без брокеров события не копятся в outbox: публиковать их некому.
	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kafka.NewProducer(cfg.KafkaBrokers, logger.WithField("layer", "kafka"))
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		} else {
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
			defer func() {
				if err := producer.Close(); err != nil {
					logger.WithError(err).Warn("failed to close kafka producer")
				}
			}()
		}
	}
	var outboxRepo domain.OutboxRepository
	if producer != nil {
		outboxRepo = deps.outbox
	}

	orderMetrics := metrics.NewOrderMetricsWithRegisterer(registerer)
	validator := validation.New()

	var gateway domain.PaymentGateway = payment.NewSimulatedGateway(
		payment.WithDelay(cfg.PaymentDelay),
		payment.WithApprovalRate(cfg.PaymentApprovalRate),
	)
	gateway = payment.NewBreakerGateway(gateway, cfg.PaymentBreakerFailures, cfg.PaymentBreakerReset, logger.WithField("layer", "payment"))

	orderService, err := order.NewService(order.Deps{
		Orders:    deps.orders,
		Products:  deps.products,
		Customers: deps.customers,
		Timeline:  deps.timeline,
		Outbox:    outboxRepo,
		Validator: validator,
		Inventory: inventory.NewManager(deps.products, logger.WithField("layer", "inventory")),
		Payments:  payment.NewProcessor(gateway, logger.WithField("layer", "payment")),
	},
		order.WithLogger(logger.WithField("layer", "orders")),
		order.WithMetrics(orderMetrics),
		order.WithTracer(tracing.Tracer("github.com/vladislavdragonenkov/shop/internal/service/order")),
	)
	if err != nil {
		return err
	}
	dispatcher := order.NewDispatcher(orderService, cfg.PaymentWorkers, logger.WithField("layer", "dispatcher"))

	reports, err := report.NewService(deps.orders, validator,
		report.WithCacheTTL(cfg.ReportCacheTTL),
		report.WithLogger(logger.WithField("layer", "reports")),
	)
	if err != nil {
		return err
	}

	idemMetrics := metrics.NewIdempotencyMetricsWithRegisterer(registerer)
	transport, err := grpcsvc.NewOrderService(
		dispatchedOrders{Service: orderService, dispatcher: dispatcher},
		reports,
		grpcsvc.WithLogger(logger.WithField("layer", "grpc")),
		grpcsvc.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
		grpcsvc.WithIdempotencyMetrics(idemMetrics),
	)
	if err != nil {
		return err
	}
	server := grpcsvc.NewServer(transport, registerer, logger.WithField("layer", "grpc"))

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	healthHandler := healthcheck.NewHandler(version.Version())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if producer != nil {
		worker := outbox.NewWorker(deps.outbox,
			kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
			outbox.WithDLQPublisher(kafka.NewDLQPublisher(producer, cfg.KafkaTopic)),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithMetrics(metrics.NewOutboxMetricsWithRegisterer(registerer)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		go worker.Run(workersCtx)
		healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outbox, cfg.OutboxMaxAge))
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithMetrics(idemMetrics),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanup.Run(workersCtx)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, gatherer, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		errCh <- server.GRPC.Serve(lis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		server.Stop(cfg.ShutdownTimeout)
		serveErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = err
		}
	}

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("payment dispatcher did not drain in time")
	}
	shutdownHTTP(metricsSrv, logger)

	return serveErr
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проверок.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
