package order

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// ErrDispatcherClosed возвращается при отправке задачи в остановленный диспетчер.
var ErrDispatcherClosed = errors.New("payment dispatcher is closed")

// PaymentResult — итог асинхронной оплаты.
type PaymentResult struct {
	OrderID string
	Order   domain.Order
	Err     error
}

type paymentRunner interface {
	ProcessPayment(ctx context.Context, orderID string) (domain.Order, error)
}

// Dispatcher выполняет оплаты на отдельных горутинах с ограничением параллелизма,
// чтобы задержка шлюза по одному заказу не блокировала остальные.
type Dispatcher struct {
	runner    paymentRunner
	semaphore chan struct{}
	logger    *log.Entry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. maxParallel <= 0 означает 8.
func NewDispatcher(runner paymentRunner, maxParallel int, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.New().WithField("component", "payment-dispatcher")
	}
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Dispatcher{
		runner:    runner,
		semaphore: make(chan struct{}, maxParallel),
		logger:    logger,
	}
}

// SubmitPayment ставит оплату в работу и сразу возвращает канал с результатом.
// Канал буферизован и получает ровно одно значение.
func (d *Dispatcher) SubmitPayment(ctx context.Context, orderID string) <-chan PaymentResult {
	out := make(chan PaymentResult, 1)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		out <- PaymentResult{OrderID: orderID, Err: ErrDispatcherClosed}
		return out
	}
	d.wg.Add(1)
	d.mu.RUnlock()

	go func() {
		defer d.wg.Done()
		out <- d.run(ctx, orderID)
	}()
	return out
}

// ProcessPayment проводит оплату через пул и ждёт результат.
func (d *Dispatcher) ProcessPayment(ctx context.Context, orderID string) (domain.Order, error) {
	select {
	case res := <-d.SubmitPayment(ctx, orderID):
		return res.Order, res.Err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// ProcessBatch оплачивает набор заказов параллельно и ждёт все результаты.
// Порядок результатов совпадает с порядком orderIDs.
func (d *Dispatcher) ProcessBatch(ctx context.Context, orderIDs []string) []PaymentResult {
	pending := make([]<-chan PaymentResult, len(orderIDs))
	for i, id := range orderIDs {
		pending[i] = d.SubmitPayment(ctx, id)
	}

	results := make([]PaymentResult, len(orderIDs))
	for i, ch := range pending {
		results[i] = <-ch
	}
	return results
}

// Shutdown запрещает новые задачи и ждёт завершения запущенных.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("payment dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, orderID string) PaymentResult {
	select {
	case d.semaphore <- struct{}{}:
	case <-ctx.Done():
		return PaymentResult{OrderID: orderID, Err: ctx.Err()}
	}
	defer func() { <-d.semaphore }()

	order, err := d.runner.ProcessPayment(ctx, orderID)
	if err != nil {
		d.logger.WithError(err).WithField("order_id", orderID).Debug("async payment finished with error")
	}
	return PaymentResult{OrderID: orderID, Order: order, Err: err}
}
