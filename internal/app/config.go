package app

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shop/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shop/internal/service/outbox"
	"github.com/vladislavdragonenkov/shop/internal/service/payment"
	"github.com/vladislavdragonenkov/shop/internal/service/report"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresMaxConns    int
	SeedDemoData        bool

	// Пустой список брокеров отключает публикацию outbox в Kafka.
	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxAge       time.Duration

	PaymentDelay           time.Duration
	PaymentApprovalRate    float64
	PaymentWorkers         int
	PaymentBreakerFailures int
	PaymentBreakerReset    time.Duration

	ReportCacheTTL time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	OTLPEndpoint string
	OTLPInsecure bool

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		PostgresMaxConns:    25,
		SeedDemoData:        true,

		KafkaTopic: kafka.TopicOrderEvents,

		OutboxPollInterval: outbox.DefaultPollInterval,
		OutboxBatchSize:    outbox.DefaultBatchSize,
		OutboxMaxAttempts:  outbox.DefaultMaxAttempts,
		OutboxRetryDelay:   outbox.DefaultRetryBaseDelay,
		OutboxMaxAge:       5 * time.Minute,

		PaymentDelay:           payment.DefaultDelay,
		PaymentApprovalRate:    payment.DefaultApprovalRate,
		PaymentWorkers:         8,
		PaymentBreakerFailures: 5,
		PaymentBreakerReset:    30 * time.Second,

		ReportCacheTTL: report.DefaultCacheTTL,

		IdempotencyTTL:              domain.DefaultIdempotencyTTL,
		IdempotencyCleanupInterval:  idempotency.DefaultCleanupInterval,
		IdempotencyCleanupBatchSize: idempotency.DefaultCleanupBatchSize,

		OTLPInsecure:    true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// LookupFunc совпадает по сигнатуре с os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv переопределяет поля из переменных окружения SHOP_*.
// Некорректные значения логируются и пропускаются.
func ApplyEnv(cfg Config, lookup LookupFunc, logger *log.Entry) Config {
	if logger == nil {
		logger = log.New().WithField("component", "config")
	}
	env := envReader{lookup: lookup, logger: logger}

	env.str("SHOP_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("SHOP_METRICS_ADDR", &cfg.MetricsAddr)

	if env.str("SHOP_STORAGE_DRIVER", &cfg.StorageDriver) {
		cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	}
	env.str("SHOP_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("SHOP_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.integer("SHOP_POSTGRES_MAX_CONNS", &cfg.PostgresMaxConns)
	env.boolean("SHOP_SEED_DEMO_DATA", &cfg.SeedDemoData)

	var brokers string
	if env.str("SHOP_KAFKA_BROKERS", &brokers) {
		cfg.KafkaBrokers = splitList(brokers)
	}
	env.str("SHOP_KAFKA_TOPIC", &cfg.KafkaTopic)

	env.duration("SHOP_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("SHOP_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("SHOP_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("SHOP_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.duration("SHOP_OUTBOX_MAX_AGE", &cfg.OutboxMaxAge)

	env.duration("SHOP_PAYMENT_DELAY", &cfg.PaymentDelay)
	env.ratio("SHOP_PAYMENT_APPROVAL_RATE", &cfg.PaymentApprovalRate)
	env.integer("SHOP_PAYMENT_WORKERS", &cfg.PaymentWorkers)

	env.duration("SHOP_REPORT_CACHE_TTL", &cfg.ReportCacheTTL)

	env.duration("SHOP_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("SHOP_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)

	env.str("SHOP_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	env.boolean("SHOP_OTLP_INSECURE", &cfg.OTLPInsecure)

	env.duration("SHOP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	return cfg
}

type envReader struct {
	lookup LookupFunc
	logger *log.Entry
}

func (e envReader) raw(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e envReader) invalid(key, value string, err error) {
	e.logger.WithError(err).WithFields(log.Fields{"env": key, "value": value}).Warn("ignoring invalid config value")
}

func (e envReader) str(key string, dst *string) bool {
	v, ok := e.raw(key)
	if ok {
		*dst = v
	}
	return ok
}

func (e envReader) boolean(key string, dst *bool) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.invalid(key, v, err)
		return
	}
	*dst = parsed
}

func (e envReader) integer(key string, dst *int) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		e.invalid(key, v, err)
		return
	}
	*dst = parsed
}

func (e envReader) duration(key string, dst *time.Duration) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed < 0 {
		e.invalid(key, v, err)
		return
	}
	*dst = parsed
}

func (e envReader) ratio(key string, dst *float64) {
	v, ok := e.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		e.invalid(key, v, err)
		return
	}
	*dst = parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
