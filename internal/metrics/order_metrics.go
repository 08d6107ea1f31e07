package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	ordersCancelled prometheus.Counter
	// payments размечен исходом: approved / rejected.
	payments *prometheus.CounterVec
	// stockShortfalls считает отказы из-за нехватки остатка по операциям.
	stockShortfalls *prometheus.CounterVec
	// failures считает ошибки операций по виду ошибки.
	failures *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
	gatewayDuration   prometheus.Histogram

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight *prometheus.GaugeVec
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of orders created",
		})),
		ordersCancelled: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_orders_cancelled_total",
			Help: "Total number of orders moved to cancelled",
		})),
		payments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_order_payments_total",
			Help: "Payment attempts by outcome",
		}, []string{"outcome"})),
		stockShortfalls: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_stock_shortfalls_total",
			Help: "Operations refused because of insufficient stock",
		}, []string{"operation"})),
		failures: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_order_operation_failures_total",
			Help: "Failed order operations by error kind",
		}, []string{"operation", "kind"})),
		operationDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shop_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"})),
		gatewayDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shop_payment_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of events enqueued to outbox",
		})),
		inFlight: register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shop_order_operations_in_flight",
			Help: "Number of order operations currently running",
		}, []string{"operation"})),
	}
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

// RecordPayment фиксирует исход оплаты.
func (m *OrderMetrics) RecordPayment(outcome string) {
	m.payments.WithLabelValues(outcome).Inc()
}

// RecordStockShortfall фиксирует отказ из-за нехватки остатка.
func (m *OrderMetrics) RecordStockShortfall(operation string) {
	m.stockShortfalls.WithLabelValues(operation).Inc()
}

// RecordFailure фиксирует ошибку операции.
func (m *OrderMetrics) RecordFailure(operation, kind string) {
	if kind == "" {
		kind = "internal"
	}
	m.failures.WithLabelValues(operation, kind).Inc()
}

// RecordOperationDuration записывает время выполнения операции.
func (m *OrderMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordGatewayDuration записывает время ответа платёжного шлюза.
func (m *OrderMetrics) RecordGatewayDuration(duration time.Duration) {
	m.gatewayDuration.Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// OperationStarted увеличивает число выполняющихся операций.
func (m *OrderMetrics) OperationStarted(operation string) {
	m.inFlight.WithLabelValues(operation).Inc()
}

// OperationFinished уменьшает число выполняющихся операций.
func (m *OrderMetrics) OperationFinished(operation string) {
	m.inFlight.WithLabelValues(operation).Dec()
}
