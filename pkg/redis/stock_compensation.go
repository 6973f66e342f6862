package redis

import (
	"context"
	_ "embed"
	"time"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
)

var (
	//go:embed lua/compensate_admission.lua
	luaCompensateAdmission    string
	compensateAdmissionScript = rd.NewScript(luaCompensateAdmission)
)

const compensationMarkTTL = 7 * 24 * time.Hour

// CompensateAdmissionOnce 撤销一次已通过的秒杀资格（库存 +1，移出已下单集合）：
// - 首次回补返回 true
// - 同一订单号重复回补返回 false（不会重复加库存）
func CompensateAdmissionOnce(ctx context.Context, cmd rd.Cmdable, orderID, voucherID, userID int64) (bool, error) {
	keys := []string{
		SeckillCompensatedKey(orderID),
		SeckillStockKey(voucherID),
		SeckillOrderKey(voucherID),
	}
	n, err := compensateAdmissionScript.Run(ctx, cmd, keys, userID, int64(compensationMarkTTL/time.Second)).Int()
	if err != nil {
		return false, errors.Wrapf(err, "compensate admission of order %d", orderID)
	}
	return n == 1, nil
}
