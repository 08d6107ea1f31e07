package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdempotencyMetrics описывает очистку просроченных ключей идемпотентности
// и повторы запросов.
type IdempotencyMetrics struct {
	cleanupRuns *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
	replays     *prometheus.CounterVec
}

// NewIdempotencyMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewIdempotencyMetricsWithRegisterer(registerer prometheus.Registerer) *IdempotencyMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &IdempotencyMetrics{
		cleanupRuns: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs grouped by result",
		}, []string{"result"})),
		deleted: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records",
		})),
		lastDeleted: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shop_idempotency_cleanup_last_deleted",
			Help: "Number of records deleted during the last cleanup run",
		})),
		replays: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_idempotency_requests_total",
			Help: "Requests carrying an idempotency key grouped by outcome",
		}, []string{"method", "outcome"})),
	}
}

// RecordCleanup фиксирует завершённый запуск очистки.
func (m *IdempotencyMetrics) RecordCleanup(deleted int, err error) {
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.lastDeleted.Set(float64(deleted))
}

// RecordDeleted увеличивает счётчик удалённых записей.
func (m *IdempotencyMetrics) RecordDeleted(n int) {
	if n > 0 {
		m.deleted.Add(float64(n))
	}
}

// RecordRequest фиксирует исход запроса с ключом: executed, replayed, conflict, in_progress.
func (m *IdempotencyMetrics) RecordRequest(method, outcome string) {
	m.replays.WithLabelValues(method, outcome).Inc()
}
