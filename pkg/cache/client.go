package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"seckill/internal/metrics"
	rediskey "seckill/pkg/redis"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLockWait = 3 * time.Second
	rebuildTimeout  = 5 * time.Second
	unlockTimeout   = 3 * time.Second

	strategyPassThrough = "passthrough"
	strategyMutex       = "mutex"
	strategyLogical     = "logical"
)

// Loader 从持久化存储按 id 读取实体，found=false 表示记录不存在。
type Loader[ID any, T any] func(ctx context.Context, id ID) (T, bool, error)

// Family 描述一类缓存键：缓存键前缀、重建锁名前缀与过期时长。
// 同一个 Family 只能使用一种过期模式（物理 TTL 或逻辑过期），不能混用。
type Family struct {
	KeyPrefix  string
	LockPrefix string
	TTL        time.Duration
}

// Key 拼出某个 id 的缓存键。
func (f Family) Key(id any) string { return f.KeyPrefix + fmt.Sprint(id) }
func (f Family) lockName(id any) string { return f.LockPrefix + fmt.Sprint(id) }

// LogicalEntry 逻辑过期的缓存信封：物理上永不过期，过了 ExpireTime 视为陈旧。
type LogicalEntry[T any] struct {
	Data       T         `json:"data"`
	ExpireTime time.Time `json:"expire_time"`
}

// Client 缓存旁路工具：空值缓存防穿透，互斥锁重建与逻辑过期防击穿。
type Client struct {
	cmd     rd.Cmdable
	locks   *rediskey.LockClient
	pool    *RebuildPool
	logger  *zap.Logger
	metrics *metrics.Metrics
	sf      singleflight.Group

	nullTTL  time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

type Option func(c *Client)

func WithNullTTL(d time.Duration) Option  { return func(c *Client) { c.nullTTL = d } }
func WithLockTTL(d time.Duration) Option  { return func(c *Client) { c.lockTTL = d } }
func WithLockWait(d time.Duration) Option { return func(c *Client) { c.lockWait = d } }
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(cmd rd.Cmdable, locks *rediskey.LockClient, pool *RebuildPool, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cmd:      cmd,
		locks:    locks,
		pool:     pool,
		logger:   logger.Named("cache"),
		nullTTL:  rediskey.CacheNullTTL,
		lockTTL:  rediskey.LockShopTTL,
		lockWait: defaultLockWait,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}
	return c
}

// Set 以 JSON 写入并设置物理 TTL。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal cache value of %s", key)
	}
	return errors.Wrapf(c.cmd.Set(ctx, key, b, ttl).Err(), "set cache %s", key)
}

// SetWithLogicalExpire 写入逻辑过期信封，物理上不过期。用于热点 key 的预热与重建。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.Set(ctx, key, LogicalEntry[any]{Data: value, ExpireTime: c.now().Add(ttl)}, 0)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(c.cmd.Del(ctx, key).Err(), "delete cache %s", key)
}

type lookup int

const (
	lookupMiss lookup = iota
	lookupNull
	lookupHit
)

// get 区分三种状态：未命中、命中空值标记、命中真实数据。
func get[T any](ctx context.Context, c *Client, key string) (T, lookup, error) {
	var zero T
	val, err := c.cmd.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		return zero, lookupMiss, nil
	}
	if err != nil {
		return zero, lookupMiss, errors.Wrapf(err, "get cache %s", key)
	}
	if val == "" {
		return zero, lookupNull, nil
	}
	var v T
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		return zero, lookupMiss, errors.Wrapf(err, "unmarshal cache %s", key)
	}
	return v, lookupHit, nil
}

// fill 回源后写缓存：不存在写空值标记（短 TTL），存在写真实数据。写缓存失败只记录日志。
func fill[T any](ctx context.Context, c *Client, key string, v T, found bool, ttl time.Duration) {
	var err error
	if found {
		err = c.Set(ctx, key, v, ttl)
	} else {
		err = errors.Wrapf(c.cmd.Set(ctx, key, "", c.nullTTL).Err(), "set null marker %s", key)
	}
	if err != nil {
		c.logger.Warn("fill cache failed", zap.String("key", key), zap.Error(err))
	}
}

// QueryWithPassThrough 空值缓存解决缓存穿透。
func QueryWithPassThrough[ID any, T any](ctx context.Context, c *Client, f Family, id ID, loader Loader[ID, T]) (T, bool, error) {
	var zero T
	key := f.Key(id)
	v, state, err := get[T](ctx, c, key)
	if err != nil {
		return zero, false, err
	}
	switch state {
	case lookupHit:
		c.metrics.CacheLookup(strategyPassThrough, "hit")
		return v, true, nil
	case lookupNull:
		c.metrics.CacheLookup(strategyPassThrough, "null")
		return zero, false, nil
	}

	c.metrics.CacheLookup(strategyPassThrough, "miss")
	v, found, err := loader(ctx, id)
	if err != nil {
		return zero, false, err
	}
	fill(ctx, c, key, v, found, f.TTL)
	return v, found, nil
}

type loaded[T any] struct {
	val   T
	found bool
}

// QueryWithMutex 互斥锁重建解决缓存击穿（同时带空值缓存）。
// 进程内并发先经 singleflight 合并，跨进程由重建锁互斥；拿锁超时返回 ErrLockTimeout，可重试。
func QueryWithMutex[ID any, T any](ctx context.Context, c *Client, f Family, id ID, loader Loader[ID, T]) (T, bool, error) {
	var zero T
	key := f.Key(id)
	v, state, err := get[T](ctx, c, key)
	if err != nil {
		return zero, false, err
	}
	switch state {
	case lookupHit:
		c.metrics.CacheLookup(strategyMutex, "hit")
		return v, true, nil
	case lookupNull:
		c.metrics.CacheLookup(strategyMutex, "null")
		return zero, false, nil
	}

	c.metrics.CacheLookup(strategyMutex, "miss")
	res, err, _ := c.sf.Do(key, func() (any, error) {
		// 同一次重建被多个调用方共享，不能因为发起者取消而让所有人失败
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockWait+rebuildTimeout)
		defer cancel()
		return rebuildWithMutex(rctx, c, f, id, loader)
	})
	if err != nil {
		return zero, false, err
	}
	r := res.(loaded[T])
	return r.val, r.found, nil
}

func rebuildWithMutex[ID any, T any](ctx context.Context, c *Client, f Family, id ID, loader Loader[ID, T]) (loaded[T], error) {
	key := f.Key(id)
	lock := c.locks.NewLock(f.lockName(id), c.lockTTL)
	if err := lock.Lock(ctx, c.lockWait); err != nil {
		return loaded[T]{}, err
	}
	defer c.unlock(lock)

	// 拿到锁后再查一次，别的持有者可能刚重建完
	v, state, err := get[T](ctx, c, key)
	if err != nil {
		return loaded[T]{}, err
	}
	if state != lookupMiss {
		return loaded[T]{val: v, found: state == lookupHit}, nil
	}

	v, found, err := loader(ctx, id)
	if err != nil {
		return loaded[T]{}, err
	}
	fill(ctx, c, key, v, found, f.TTL)
	return loaded[T]{val: v, found: found}, nil
}

// QueryWithLogicalExpire 逻辑过期解决热点 key 的缓存击穿。
// 热点 key 需提前预热；未命中直接返回不存在，不回源。
// 已过期时至多一个持锁者把重建交给后台协程池，所有调用方立即拿到旧值。
func QueryWithLogicalExpire[ID any, T any](ctx context.Context, c *Client, f Family, id ID, loader Loader[ID, T]) (T, bool, error) {
	var zero T
	key := f.Key(id)
	entry, state, err := get[LogicalEntry[T]](ctx, c, key)
	if err != nil {
		return zero, false, err
	}
	if state != lookupHit {
		c.metrics.CacheLookup(strategyLogical, "miss")
		return zero, false, nil
	}
	if c.now().Before(entry.ExpireTime) {
		c.metrics.CacheLookup(strategyLogical, "hit")
		return entry.Data, true, nil
	}

	c.metrics.CacheLookup(strategyLogical, "stale")
	lock := c.locks.NewLock(f.lockName(id), c.lockTTL)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		c.logger.Warn("try rebuild lock failed", zap.String("key", key), zap.Error(err))
		return entry.Data, true, nil
	}
	if !ok {
		return entry.Data, true, nil
	}

	fresh, state, err := get[LogicalEntry[T]](ctx, c, key)
	if err == nil && state == lookupHit && c.now().Before(fresh.ExpireTime) {
		c.unlock(lock)
		return fresh.Data, true, nil
	}

	submitted := c.pool.TrySubmit(func() {
		defer c.unlock(lock)
		rebuildLogical(c, f, key, id, loader)
	})
	if !submitted {
		c.metrics.Rebuild("rejected")
		c.logger.Warn("rebuild pool saturated, skip rebuild", zap.String("key", key))
		c.unlock(lock)
	}
	return entry.Data, true, nil
}

// rebuildLogical 在后台协程中执行，脱离调用方 ctx。失败只记录，旧值继续对外服务。
func rebuildLogical[ID any, T any](c *Client, f Family, key string, id ID, loader Loader[ID, T]) {
	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()

	v, found, err := loader(ctx, id)
	if err != nil {
		c.metrics.Rebuild("failed")
		c.logger.Error("rebuild cache failed", zap.String("key", key), zap.Error(err))
		return
	}
	if !found {
		// 源数据已删除：去掉热点缓存，后续读取按未预热处理
		err = c.Delete(ctx, key)
	} else {
		err = c.SetWithLogicalExpire(ctx, key, v, f.TTL)
	}
	if err != nil {
		c.metrics.Rebuild("failed")
		c.logger.Error("write rebuilt cache failed", zap.String("key", key), zap.Error(err))
		return
	}
	c.metrics.Rebuild("ok")
}

// unlock 释放时脱离调用方 ctx，调用方 ctx 可能已被取消。
func (c *Client) unlock(lock *rediskey.Lock) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if _, err := lock.Unlock(ctx); err != nil {
		c.logger.Error("release rebuild lock failed", zap.String("lock", lock.Key()), zap.Error(err))
	}
}
