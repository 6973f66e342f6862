package seckill

import (
	"context"
	_ "embed"

	"seckill/internal/auth"
	"seckill/internal/metrics"
	rediskey "seckill/pkg/redis"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	//go:embed lua/seckill.lua
	luaSeckill    string
	seckillScript = rd.NewScript(luaSeckill)
)

// Service 秒杀下单入口：在缓存里原子完成资格校验后，立即返回订单号，落库交给 Worker 异步完成。
type Service struct {
	cmd        rd.Cmdable
	ids        *rediskey.IDWorker
	queue      *OrderQueue
	promotions *PromotionCache
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewService(cmd rd.Cmdable, ids *rediskey.IDWorker, queue *OrderQueue, promotions *PromotionCache,
	logger *zap.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		cmd:        cmd,
		ids:        ids,
		queue:      queue,
		promotions: promotions,
		logger:     logger.Named("seckill"),
		metrics:    m,
	}
}

// Seckill 当前登录用户抢购一张秒杀券，成功返回订单号。
// 返回订单号只代表获得了资格，订单记录稍后才会出现在数据库中。
func (s *Service) Seckill(ctx context.Context, voucherID int64) (int64, error) {
	user, ok := auth.UserFrom(ctx)
	if !ok {
		return 0, ErrNoUser
	}

	if err := s.promotions.Check(ctx, voucherID); err != nil {
		s.metrics.Admission(admissionResult(err))
		return 0, err
	}

	orderID, err := s.ids.NextID(ctx, orderIDNamespace)
	if err != nil {
		s.metrics.Admission("error")
		return 0, err
	}

	keys := []string{rediskey.SeckillStockKey(voucherID), rediskey.SeckillOrderKey(voucherID)}
	code, err := seckillScript.Run(ctx, s.cmd, keys, voucherID, orderID, user.ID).Int()
	if err != nil {
		s.metrics.Admission("error")
		return 0, errors.Wrapf(err, "run seckill admission for voucher %d", voucherID)
	}
	switch code {
	case codeAccepted:
	case codeSoldOut:
		s.metrics.Admission("sold_out")
		return 0, ErrSoldOut
	case codeDuplicate:
		s.metrics.Admission("duplicate")
		return 0, ErrDuplicateOrder
	default:
		s.metrics.Admission("error")
		return 0, errors.Errorf("unexpected seckill admission code %d", code)
	}

	task := PendingOrder{OrderID: orderID, UserID: user.ID, VoucherID: voucherID}
	if err := s.queue.Offer(task); err != nil {
		// 资格已经在缓存里扣掉，入队失败必须归还，否则库存凭空少一件
		s.compensate(task, err)
		s.metrics.Admission(admissionResult(err))
		return 0, err
	}
	s.metrics.Admission("accepted")
	s.metrics.QueueDepth(s.queue.Len())
	return orderID, nil
}

func (s *Service) compensate(task PendingOrder, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()
	done, err := rediskey.CompensateAdmissionOnce(ctx, s.cmd, task.OrderID, task.VoucherID, task.UserID)
	if err != nil {
		s.logger.Error("compensate admission failed",
			zap.Int64("order_id", task.OrderID),
			zap.Int64("user_id", task.UserID),
			zap.Int64("voucher_id", task.VoucherID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.logger.Warn("admission compensated",
		zap.Int64("order_id", task.OrderID),
		zap.Int64("voucher_id", task.VoucherID),
		zap.Bool("first_time", done),
		zap.NamedError("cause", cause))
}

func admissionResult(err error) string {
	switch {
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrEnded):
		return "ended"
	case errors.Is(err, ErrVoucherNotFound):
		return "not_found"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrPipelineClosed):
		return "closed"
	default:
		return "error"
	}
}
