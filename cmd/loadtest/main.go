package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/shop/internal/service/grpc"
	"github.com/vladislavdragonenkov/shop/internal/version"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreatePay    loadMode = "create-pay"
	modeCreateCancel loadMode = "create-cancel"
	// modeMixed оплачивает заказы, часть отменяет до оплаты и периодически читает отчёты.
	modeMixed loadMode = "mixed"

	reportEvery = 10
)

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	customers   []string
	products    []string
	quantity    int
	outputPath  string
}

// orderClient — подмножество OrderServiceClient, которое использует нагрузка.
type orderClient interface {
	CreateOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ProcessPayment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetTopCustomers(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	var (
		cfg                        config
		modeValue, customers, skus string
	)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "scenarios to execute; with -duration acts as an upper bound when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreatePay), "load mode: create | create-pay | create-cancel | mixed")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 20, "percent of scenarios cancelled before payment in mixed mode (0..100)")
	fs.StringVar(&customers, "customers", "customer-1,customer-2,customer-3", "comma-separated customer ids")
	fs.StringVar(&skus, "products", "sku-mouse,sku-keyboard", "comma-separated product ids")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order line")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.customers = splitList(customers)
	cfg.products = splitList(skus)

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case len(cfg.customers) == 0:
		return cfg, errors.New("at least one customer is required")
	case len(cfg.products) == 0:
		return cfg, errors.New("at least one product is required")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreatePay, modeCreateCancel, modeMixed:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
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

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	clients := make([]orderClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithUserAgent(version.UserAgent("loadtest")),
		)
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	result := runLoad(clients, cfg, runID)

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(clients []orderClient, cfg config, runID string) report {
	startedAt := time.Now()
	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)

	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(client orderClient) {
			defer wg.Done()
			for id := range jobs {
				_ = runScenario(client, cfg, id, runID, col)
			}
		}(clients[w%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()
	return col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; !cfg.totalSet || i < cfg.total; i++ {
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario создаёт заказ и ведёт его по выбранному режиму.
// Отклонённая оплата — нормальный исход и ошибкой сценария не считается.
func runScenario(client orderClient, cfg config, index int, runID string, col *collector) (err error) {
	start := time.Now()
	defer func() { col.record(scenarioMethod, time.Since(start), grpcCode(err)) }()

	created, err := call(col, "CreateOrder", cfg.timeout, fmt.Sprintf("lt-create-%s-%d", runID, index),
		client.CreateOrder, createRequest(cfg, index))
	if err != nil {
		return err
	}
	orderID := created.GetFields()["id"].GetStringValue()
	if orderID == "" {
		return status.Error(codes.Internal, "create response returned empty order id")
	}

	ref := &structpb.Struct{Fields: map[string]*structpb.Value{"order_id": structpb.NewStringValue(orderID)}}
	var final *structpb.Struct
	switch {
	case cfg.mode == modeCreate:
		final = created
	case cfg.mode == modeCreateCancel || (cfg.mode == modeMixed && shouldCancel(index, cfg.cancelRate)):
		final, err = call(col, "CancelOrder", cfg.timeout, fmt.Sprintf("lt-cancel-%s-%d", runID, index), client.CancelOrder, ref)
	default:
		final, err = call(col, "ProcessPayment", cfg.timeout, fmt.Sprintf("lt-pay-%s-%d", runID, index), client.ProcessPayment, ref)
	}
	if err != nil {
		return err
	}
	col.recordStatus(final.GetFields()["status"].GetStringValue())

	if cfg.mode == modeMixed && index%reportEvery == 0 {
		limit := &structpb.Struct{Fields: map[string]*structpb.Value{"limit": structpb.NewNumberValue(5)}}
		if _, err := call(col, "GetTopCustomers", cfg.timeout, "", client.GetTopCustomers, limit); err != nil {
			return err
		}
	}
	return nil
}

type rpc func(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)

// call выполняет RPC с таймаутом и ключом идемпотентности и записывает результат.
func call(col *collector, method string, timeout time.Duration, key string, fn rpc, req *structpb.Struct) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, grpcsvc.IdempotencyKeyHeader, key)
	}

	start := time.Now()
	resp, err := fn(ctx, req)
	col.record(method, time.Since(start), grpcCode(err))
	return resp, err
}

func createRequest(cfg config, index int) *structpb.Struct {
	product := structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"product_id": structpb.NewStringValue(cfg.products[index%len(cfg.products)]),
		"quantity":   structpb.NewNumberValue(float64(cfg.quantity)),
	}})
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"customer_id": structpb.NewStringValue(cfg.customers[index%len(cfg.customers)]),
		"items":       structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{product}}),
	}}
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldCancel(index, cancelRate int) bool {
	switch {
	case cancelRate <= 0:
		return false
	case cancelRate >= 100:
		return true
	}
	return index%100 < cancelRate
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}
