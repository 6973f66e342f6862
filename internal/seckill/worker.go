package seckill

import (
	"context"
	"strconv"
	"sync"
	"time"

	"seckill/internal/metrics"
	"seckill/internal/model"
	"seckill/internal/repository"
	rediskey "seckill/pkg/redis"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultLockTTL     = 10 * time.Second
	defaultLockWait    = 3 * time.Second
	defaultMaxAttempts = 3
	writeTimeout       = 10 * time.Second
	compensateTimeout  = 3 * time.Second
)

// defaultPublishTimeout 事件是可选的下游通知，发布必须有界，不能拖住唯一的落单协程
const defaultPublishTimeout = 500 * time.Millisecond

// OrderCreator 持久化建单：事务内复查一人一单并扣减落库库存。
type OrderCreator interface {
	CreateSeckillOrder(ctx context.Context, order model.VoucherOrder) error
}

// EventPublisher 订单落库后的下游通知，可选。
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, order model.VoucherOrder) error
}

// Worker 单协程按入队顺序消费建单任务。
type Worker struct {
	queue     *OrderQueue
	orders    OrderCreator
	locks     *rediskey.LockClient
	cmd       rd.Cmdable
	publisher EventPublisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	lockTTL        time.Duration
	lockWait       time.Duration
	maxAttempts    int
	publishTimeout time.Duration
	now            func() time.Time

	startOnce sync.Once
	done      chan struct{}
}

type WorkerOption func(w *Worker)

func WithOrderLockTTL(d time.Duration) WorkerOption  { return func(w *Worker) { w.lockTTL = d } }
func WithOrderLockWait(d time.Duration) WorkerOption { return func(w *Worker) { w.lockWait = d } }
func WithMaxAttempts(n int) WorkerOption             { return func(w *Worker) { w.maxAttempts = n } }
func WithPublisher(p EventPublisher) WorkerOption    { return func(w *Worker) { w.publisher = p } }
func WithPublishTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.publishTimeout = d }
}
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(queue *OrderQueue, orders OrderCreator, locks *rediskey.LockClient, cmd rd.Cmdable,
	logger *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       queue,
		orders:      orders,
		locks:       locks,
		cmd:         cmd,
		logger:      logger.Named("order-worker"),
		metrics:     metrics.NewNop(),
		lockTTL:     defaultLockTTL,
		lockWait:    defaultLockWait,
		maxAttempts:    defaultMaxAttempts,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	// 至少尝试一次，否则任务会被当作成功丢掉
	if w.maxAttempts < 1 {
		w.maxAttempts = 1
	}
	if w.publishTimeout <= 0 {
		w.publishTimeout = defaultPublishTimeout
	}
	return w
}

// Start 启动消费协程，重复调用无效。
// ctx 取消时不再落单，队列里剩余任务全部记入失败台账；正常停机应调用 Stop，把已入队的任务处理完。
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.run(ctx) })
}

// Stop 关闭队列并等待剩余任务处理完。未 Start 过的 Worker 也会在这里把队列排空。
func (w *Worker) Stop() {
	w.queue.Close()
	w.Start(context.Background())
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	w.logger.Info("order worker started")
	for {
		task, err := w.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, ErrPipelineClosed) {
				w.logger.Info("order queue drained, worker stopped")
				return
			}
			w.abandon(err)
			return
		}
		w.metrics.QueueDepth(w.queue.Len())
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task PendingOrder) {
	order := model.VoucherOrder{
		ID:        task.OrderID,
		UserID:    task.UserID,
		VoucherID: task.VoucherID,
		CreatedAt: w.now(),
	}

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err = w.fulfill(ctx, order)
		if !errors.Is(err, rediskey.ErrLockTimeout) {
			break
		}
		w.logger.Warn("order lock busy",
			zap.Int64("order_id", order.ID),
			zap.Int64("user_id", order.UserID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		w.fail(task, err)
		return
	}

	w.metrics.Fulfillment("created")
	w.logger.Debug("voucher order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("voucher_id", order.VoucherID))
	w.publish(ctx, order)
}

// fulfill 持有用户锁期间完成建单，拿到锁之后的落库不受 ctx 取消影响。
func (w *Worker) fulfill(ctx context.Context, order model.VoucherOrder) error {
	lock := w.locks.NewLock(rediskey.LockOrderName+strconv.FormatInt(order.UserID, 10), w.lockTTL)
	if err := lock.Lock(ctx, w.lockWait); err != nil {
		return err
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
		defer cancel()
		if _, err := lock.Unlock(uctx); err != nil {
			w.logger.Warn("release order lock failed", zap.String("key", lock.Key()), zap.Error(err))
		}
	}()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return w.orders.CreateSeckillOrder(wctx, order)
}

// fail 落单失败不回补缓存库存，只记入失败台账等待人工对账。
func (w *Worker) fail(task PendingOrder, err error) {
	reason := failureReason(err)
	w.metrics.Fulfillment(reason)
	w.logger.Error("voucher order fulfillment failed",
		zap.Int64("order_id", task.OrderID),
		zap.Int64("user_id", task.UserID),
		zap.Int64("voucher_id", task.VoucherID),
		zap.String("reason", reason),
		zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()
	rec := rediskey.FailedOrder{
		OrderID:   task.OrderID,
		UserID:    task.UserID,
		VoucherID: task.VoucherID,
		Reason:    reason + ": " + err.Error(),
		FailedAt:  w.now(),
	}
	if perr := rediskey.PutFailedOrder(ctx, w.cmd, rec, 0); perr != nil {
		w.logger.Error("record failed order", zap.Int64("order_id", task.OrderID), zap.Error(perr))
	}
}

// abandon 被中断时拒绝新任务，并把已入队但来不及落单的任务逐个记入失败台账。
func (w *Worker) abandon(cause error) {
	w.queue.Close()
	pending := 0
	for {
		task, err := w.queue.Take(context.Background())
		if err != nil {
			break
		}
		pending++
		w.fail(task, cause)
	}
	w.logger.Warn("order worker interrupted", zap.Int("abandoned", pending), zap.Error(cause))
}

func (w *Worker) publish(ctx context.Context, order model.VoucherOrder) {
	if w.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.publishTimeout)
	defer cancel()
	if err := w.publisher.PublishOrderCreated(pctx, order); err != nil {
		// 订单已落库，事件丢失只影响下游，不回滚
		w.logger.Warn("publish order created event failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, repository.ErrOrderExists):
		return "duplicate"
	case errors.Is(err, repository.ErrStockEmpty):
		return "stock_empty"
	case errors.Is(err, rediskey.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "interrupted"
	default:
		return "error"
	}
}
