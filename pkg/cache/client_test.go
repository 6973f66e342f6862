package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seckill/internal/test/ioc"
	rediskey "seckill/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type shop struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

var shopFamily = Family{KeyPrefix: "cache:shop:", LockPrefix: "shop:", TTL: 30 * time.Minute}

// countingLoader 记录回源次数，id 为偶数时视为记录存在。
type countingLoader struct {
	calls atomic.Int64
	name  string
}

func (l *countingLoader) load(_ context.Context, id int64) (shop, bool, error) {
	l.calls.Add(1)
	if id%2 != 0 {
		return shop{}, false, nil
	}
	return shop{ID: id, Name: l.name}, true, nil
}

func newTestClient(t *testing.T, poolSize int, opts ...Option) (*Client, *rd.Client, *miniredis.Miniredis) {
	t.Helper()
	rdb, mr := ioc.InitRedis(t)
	logger := zaptest.NewLogger(t)
	pool := NewRebuildPool(poolSize, logger)
	t.Cleanup(pool.Close)
	return NewClient(rdb, rediskey.NewLockClient(rdb), pool, logger, opts...), rdb, mr
}

func TestQueryWithPassThrough(t *testing.T) {
	c, rdb, mr := newTestClient(t, 2, WithNullTTL(2*time.Minute))
	ctx := context.Background()
	loader := &countingLoader{name: "noodles"}

	got, found, err := QueryWithPassThrough(ctx, c, shopFamily, int64(2), loader.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "noodles", got.Name)
	assert.InDelta(t, (30 * time.Minute).Seconds(), mr.TTL("cache:shop:2").Seconds(), 1)

	got, found, err = QueryWithPassThrough(ctx, c, shopFamily, int64(2), loader.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, int64(1), loader.calls.Load())

	// 不存在的 id：写空值标记，空值 TTL 内再次查询不回源
	_, found, err = QueryWithPassThrough(ctx, c, shopFamily, int64(3), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	marker, err := rdb.Get(ctx, "cache:shop:3").Result()
	require.NoError(t, err)
	assert.Equal(t, "", marker)
	assert.Equal(t, 2*time.Minute, mr.TTL("cache:shop:3"))

	_, found, err = QueryWithPassThrough(ctx, c, shopFamily, int64(3), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(2), loader.calls.Load())

	// 空值标记过期后重新回源
	mr.FastForward(3 * time.Minute)
	_, found, err = QueryWithPassThrough(ctx, c, shopFamily, int64(3), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(3), loader.calls.Load())
}

func TestQueryWithPassThroughLoaderError(t *testing.T) {
	c, rdb, _ := newTestClient(t, 2)
	ctx := context.Background()
	boom := errors.New("db down")

	_, _, err := QueryWithPassThrough(ctx, c, shopFamily, int64(4),
		func(context.Context, int64) (shop, bool, error) { return shop{}, false, boom })
	assert.ErrorIs(t, err, boom)

	// 回源失败不能写空值标记，否则会把故障缓存成"不存在"
	exists, err := rdb.Exists(ctx, "cache:shop:4").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestQueryWithMutexSingleLoad(t *testing.T) {
	rdb, _ := ioc.InitRedis(t)
	logger := zaptest.NewLogger(t)
	locks := rediskey.NewLockClient(rdb)
	pool := NewRebuildPool(2, logger)
	t.Cleanup(pool.Close)
	// 两个客户端共享 Redis，模拟两个进程
	clients := []*Client{
		NewClient(rdb, locks, pool, logger),
		NewClient(rdb, rediskey.NewLockClient(rdb), pool, logger),
	}

	var calls atomic.Int64
	slowLoader := func(_ context.Context, id int64) (shop, bool, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return shop{ID: id, Name: "hot"}, true, nil
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			got, found, err := QueryWithMutex(ctx, c, shopFamily, int64(10), slowLoader)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "hot", got.Name)
		}(clients[i%2])
	}
	wg.Wait()
	assert.Equal(t, int64(1), calls.Load())

	exists, err := rdb.Exists(ctx, "lock:shop:10").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestQueryWithMutexNullMarkerAndTimeout(t *testing.T) {
	c, rdb, _ := newTestClient(t, 2, WithLockWait(100*time.Millisecond))
	ctx := context.Background()
	loader := &countingLoader{}

	_, found, err := QueryWithMutex(ctx, c, shopFamily, int64(5), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = QueryWithMutex(ctx, c, shopFamily, int64(5), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(1), loader.calls.Load())

	// 别的持有者长期占着重建锁：等待有界，返回可重试的超时错误
	require.NoError(t, rdb.Set(ctx, "lock:shop:6", "someone-else", time.Minute).Err())
	_, _, err = QueryWithMutex(ctx, c, shopFamily, int64(6), loader.load)
	assert.ErrorIs(t, err, rediskey.ErrLockTimeout)
	assert.Equal(t, int64(1), loader.calls.Load())
}

func TestQueryWithMutexSurvivesInitiatorCancel(t *testing.T) {
	c, rdb, _ := newTestClient(t, 2)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int64
	loader := func(ctx context.Context, id int64) (shop, bool, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
			return shop{ID: id, Name: "shared"}, true, nil
		case <-ctx.Done():
			return shop{}, false, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		val shop
		err error
	}
	first := make(chan result, 1)
	go func() {
		v, _, err := QueryWithMutex(ctx, c, shopFamily, int64(12), loader)
		first <- result{val: v, err: err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		v, _, err := QueryWithMutex(context.Background(), c, shopFamily, int64(12), loader)
		second <- result{val: v, err: err}
	}()

	// 发起者取消，共享的重建不受影响
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for _, ch := range []chan result{first, second} {
		r := <-ch
		require.NoError(t, r.err)
		assert.Equal(t, "shared", r.val.Name)
	}
	assert.Equal(t, int64(1), calls.Load())

	exists, err := rdb.Exists(context.Background(), "cache:shop:12").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestQueryWithLogicalExpireNotWarmed(t *testing.T) {
	c, _, _ := newTestClient(t, 2)
	loader := &countingLoader{}

	_, found, err := QueryWithLogicalExpire(context.Background(), c, shopFamily, int64(8), loader.load)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, int64(0), loader.calls.Load())
}

func TestQueryWithLogicalExpireFresh(t *testing.T) {
	c, _, mr := newTestClient(t, 2)
	ctx := context.Background()
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:8", shop{ID: 8, Name: "warm"}, time.Minute))
	// 物理上不过期
	assert.Equal(t, time.Duration(0), mr.TTL("cache:shop:8"))

	loader := &countingLoader{}
	got, found, err := QueryWithLogicalExpire(ctx, c, shopFamily, int64(8), loader.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "warm", got.Name)
	assert.Equal(t, int64(0), loader.calls.Load())
}

func TestQueryWithLogicalExpireSingleRebuild(t *testing.T) {
	c, rdb, _ := newTestClient(t, 4)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:12", shop{ID: 12, Name: "stale"}, time.Second))
	now = now.Add(2 * time.Second)

	var calls atomic.Int64
	release := make(chan struct{})
	blockingLoader := func(_ context.Context, id int64) (shop, bool, error) {
		calls.Add(1)
		<-release
		return shop{ID: id, Name: "fresh"}, true, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, found, err := QueryWithLogicalExpire(ctx, c, shopFamily, int64(12), blockingLoader)
			assert.NoError(t, err)
			assert.True(t, found)
			// 重建进行中，所有读者立即拿到旧值
			assert.Equal(t, "stale", got.Name)
		}()
	}
	wg.Wait()
	close(release)

	require.Eventually(t, func() bool {
		exists, err := rdb.Exists(ctx, "lock:shop:12").Result()
		return err == nil && exists == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), calls.Load())

	got, found, err := QueryWithLogicalExpire(ctx, c, shopFamily, int64(12), blockingLoader)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "fresh", got.Name)
}

func TestQueryWithLogicalExpireLoaderFailure(t *testing.T) {
	c, rdb, _ := newTestClient(t, 2)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:14", shop{ID: 14, Name: "stale"}, time.Second))
	now = now.Add(2 * time.Second)

	var calls atomic.Int64
	failing := func(context.Context, int64) (shop, bool, error) {
		calls.Add(1)
		panic("loader exploded")
	}

	got, found, err := QueryWithLogicalExpire(ctx, c, shopFamily, int64(14), failing)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "stale", got.Name)

	// 失败后锁仍被释放，下一次读取可以再次触发重建
	require.Eventually(t, func() bool {
		exists, err := rdb.Exists(ctx, "lock:shop:14").Result()
		return err == nil && exists == 0 && calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	loader := &countingLoader{name: "recovered"}
	got, _, err = QueryWithLogicalExpire(ctx, c, shopFamily, int64(14), loader.load)
	require.NoError(t, err)
	assert.Equal(t, "stale", got.Name)
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueryWithLogicalExpirePoolSaturated(t *testing.T) {
	c, rdb, _ := newTestClient(t, 1)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetWithLogicalExpire(ctx, "cache:shop:16", shop{ID: 16, Name: "stale"}, time.Second))
	now = now.Add(2 * time.Second)

	// 占满唯一的重建协程
	block := make(chan struct{})
	require.True(t, c.pool.TrySubmit(func() { <-block }))
	defer close(block)

	loader := &countingLoader{}
	got, found, err := QueryWithLogicalExpire(ctx, c, shopFamily, int64(16), loader.load)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "stale", got.Name)

	// 未能提交重建时锁要立即释放
	exists, err := rdb.Exists(ctx, "lock:shop:16").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
	assert.Equal(t, int64(0), loader.calls.Load())
}
