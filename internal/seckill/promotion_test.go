package seckill

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/model"

	"github.com/stretchr/testify/assert"
)

type countingVouchers struct {
	calls atomic.Int64
	// gate 非空时回源阻塞到 gate 关闭，用于模拟慢查询
	gate chan struct{}
	v    model.SeckillVoucher
}

func (c *countingVouchers) GetByID(_ context.Context, id int64) (model.SeckillVoucher, bool, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if id != c.v.VoucherID {
		return model.SeckillVoucher{}, false, nil
	}
	return c.v, true, nil
}

func TestPromotionCacheCheck(t *testing.T) {
	begin := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	src := &countingVouchers{v: model.SeckillVoucher{VoucherID: 7, BeginTime: begin, EndTime: begin.Add(time.Hour)}}
	p := NewPromotionCache(src, time.Minute)
	ctx := context.Background()

	testCases := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "before", now: begin.Add(-time.Second), wantErr: ErrNotStarted},
		{name: "at begin", now: begin},
		{name: "inside", now: begin.Add(30 * time.Minute)},
		{name: "at end", now: begin.Add(time.Hour)},
		{name: "after", now: begin.Add(time.Hour + time.Second), wantErr: ErrEnded},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p.now = func() time.Time { return tc.now }
			err := p.Check(ctx, 7)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestPromotionCacheUnknownVoucherCached(t *testing.T) {
	src := &countingVouchers{v: model.SeckillVoucher{VoucherID: 7}}
	p := NewPromotionCache(src, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, p.Check(ctx, 8), ErrVoucherNotFound)
	}
	assert.Equal(t, int64(1), src.calls.Load())

	// 不存在标记过期后重新回源
	p.local.Delete("8")
	assert.ErrorIs(t, p.Check(ctx, 8), ErrVoucherNotFound)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestPromotionCacheConcurrentMissLoadsOnce(t *testing.T) {
	now := time.Now()
	src := &countingVouchers{
		gate: make(chan struct{}),
		v:    model.SeckillVoucher{VoucherID: 7, BeginTime: now.Add(-time.Minute), EndTime: now.Add(time.Hour)},
	}
	p := NewPromotionCache(src, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Check(context.Background(), 7))
		}()
	}
	// 等第一个回源开始后再放行
	assert.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int64(1), src.calls.Load())
}

func TestPromotionCachePut(t *testing.T) {
	src := &countingVouchers{}
	p := NewPromotionCache(src, time.Minute)
	now := time.Now()
	p.Put(model.SeckillVoucher{VoucherID: 9, BeginTime: now.Add(-time.Minute), EndTime: now.Add(time.Minute)})

	assert.NoError(t, p.Check(context.Background(), 9))
	assert.Zero(t, src.calls.Load())
}
