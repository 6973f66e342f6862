package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
)

const (
	// beginTimestamp 2022-01-01 00:00:00 UTC
	beginTimestamp int64 = 1640995200
	// countBits 序列号位数
	countBits = 32
)

// IDWorker 全局唯一 ID 生成器：高 32 位为相对起始时间的秒数，低 32 位为 Redis 中按天自增的序列。
// 序列只保证唯一且递增，不保证连续。
type IDWorker struct {
	cmd rd.Cmdable
	now func() time.Time
}

func NewIDWorker(cmd rd.Cmdable) *IDWorker {
	return &IDWorker{cmd: cmd, now: time.Now}
}

// NextID INCR 在键不存在时会自动从 0 开始创建，因此不存在"键缺失"的分支。
func (w *IDWorker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := w.now().UTC()
	timestamp := now.Unix() - beginTimestamp

	count, err := w.cmd.Incr(ctx, IDCounterKey(namespace, now)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "incr id counter of %s", namespace)
	}
	return timestamp<<countBits | count, nil
}

// SplitID 拆出 ID 中的时间与当日序列，主要用于排查。
func SplitID(id int64) (time.Time, int64) {
	sec := id>>countBits + beginTimestamp
	return time.Unix(sec, 0).UTC(), id & (1<<countBits - 1)
}
