package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
)

// FailedOrder 异步落单失败的订单记录。缓存侧库存已不可逆地扣减，需要人工对账。
type FailedOrder struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
	Reason    string
	FailedAt  time.Time
}

// PutFailedOrder 写入失败台账，ttl<=0 表示永不过期。
func PutFailedOrder(ctx context.Context, cmd rd.Cmdable, f FailedOrder, ttl time.Duration) error {
	key := FailedOrderKey(f.OrderID)
	pipe := cmd.TxPipeline()
	pipe.HSet(ctx, key,
		"order_id", f.OrderID,
		"user_id", f.UserID,
		"voucher_id", f.VoucherID,
		"reason", f.Reason,
		"failed_at", f.FailedAt.UnixMilli(),
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "put failed order %d", f.OrderID)
}

// GetFailedOrder found=false 表示该订单没有失败记录。
func GetFailedOrder(ctx context.Context, cmd rd.Cmdable, orderID int64) (FailedOrder, bool, error) {
	m, err := cmd.HGetAll(ctx, FailedOrderKey(orderID)).Result()
	if err != nil {
		return FailedOrder{}, false, errors.Wrapf(err, "get failed order %d", orderID)
	}
	if len(m) == 0 {
		return FailedOrder{}, false, nil
	}
	userID, _ := strconv.ParseInt(m["user_id"], 10, 64)
	voucherID, _ := strconv.ParseInt(m["voucher_id"], 10, 64)
	failedAt, _ := strconv.ParseInt(m["failed_at"], 10, 64)
	return FailedOrder{
		OrderID:   orderID,
		UserID:    userID,
		VoucherID: voucherID,
		Reason:    m["reason"],
		FailedAt:  time.UnixMilli(failedAt),
	}, true, nil
}
