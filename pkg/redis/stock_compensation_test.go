package redis

import (
	"context"
	"testing"
	"time"

	"seckill/internal/test/ioc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompensateAdmissionOnce(t *testing.T) {
	rdb, _ := ioc.InitRedis(t)
	ctx := context.Background()

	require.NoError(t, rdb.Set(ctx, SeckillStockKey(3), 0, 0).Err())
	require.NoError(t, rdb.SAdd(ctx, SeckillOrderKey(3), "11").Err())

	done, err := CompensateAdmissionOnce(ctx, rdb, 500, 3, 11)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = CompensateAdmissionOnce(ctx, rdb, 500, 3, 11)
	require.NoError(t, err)
	assert.False(t, done)

	stock, err := rdb.Get(ctx, SeckillStockKey(3)).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stock)

	member, err := rdb.SIsMember(ctx, SeckillOrderKey(3), "11").Result()
	require.NoError(t, err)
	assert.False(t, member)
}

func TestFailedOrderLedger(t *testing.T) {
	rdb, _ := ioc.InitRedis(t)
	ctx := context.Background()

	_, found, err := GetFailedOrder(ctx, rdb, 1)
	require.NoError(t, err)
	assert.False(t, found)

	at := time.UnixMilli(time.Now().UnixMilli())
	require.NoError(t, PutFailedOrder(ctx, rdb, FailedOrder{
		OrderID: 1, UserID: 2, VoucherID: 3, Reason: "stock empty", FailedAt: at,
	}, time.Hour))

	got, found, err := GetFailedOrder(ctx, rdb, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.UserID)
	assert.Equal(t, int64(3), got.VoucherID)
	assert.Equal(t, "stock empty", got.Reason)
	assert.True(t, at.Equal(got.FailedAt))
}
