package redis

import (
	"context"
	_ "embed"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ecodeclub/ekit/retry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
)

// ErrLockTimeout 阻塞加锁在限定时间内没有拿到锁，调用方可稍后重试。
var ErrLockTimeout = errors.New("acquire distributed lock timeout")

var (
	//go:embed lua/unlock.lua
	luaUnlock    string
	unlockScript = rd.NewScript(luaUnlock)
)

const (
	defaultInitialBackoff = 10 * time.Millisecond
	defaultMaxBackoff     = 200 * time.Millisecond
)

// LockClient 基于 SET NX PX 的分布式互斥锁，锁值为持有者标识，释放时通过 Lua 比对后删除。
type LockClient struct {
	cmd rd.Cmdable
	// processID 区分不同进程，seq 区分同一进程内的不同持有者
	processID string
	seq       atomic.Int64

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewLockClient(cmd rd.Cmdable) *LockClient {
	return &LockClient{
		cmd:            cmd,
		processID:      uuid.NewString(),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// NewHolderID 生成一个不会与其他持有者重复的标识。
func (c *LockClient) NewHolderID() string {
	return c.processID + "-" + strconv.FormatInt(c.seq.Add(1), 10)
}

// TryLock 非阻塞加锁，锁已被他人持有时立即返回 false。
func (c *LockClient) TryLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	ok, err := c.cmd.SetNX(ctx, LockKeyPrefix+name, holderID, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx lock %s", name)
	}
	return ok, nil
}

// Lock 阻塞加锁：在 wait 时间内按指数退避重试。
// 超时返回 ErrLockTimeout；ctx 被取消时返回 ctx 的错误。两者都可重试。
func (c *LockClient) Lock(ctx context.Context, name, holderID string, ttl, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	strategy, err := retry.NewExponentialBackoffRetryStrategy(c.initialBackoff, c.maxBackoff, math.MaxInt32)
	if err != nil {
		return errors.Wrap(err, "init lock backoff")
	}
	for {
		ok, err := c.TryLock(waitCtx, name, holderID, ttl)
		switch {
		case ok:
			return nil
		case err != nil && waitCtx.Err() == nil:
			return err
		}

		next, retryable := strategy.Next()
		if !retryable {
			return ErrLockTimeout
		}
		timer := time.NewTimer(next)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrLockTimeout
		case <-timer.C:
		}
	}
}

// Unlock 仅当锁仍由 holderID 持有时删除，返回是否真的删除了。
func (c *LockClient) Unlock(ctx context.Context, name, holderID string) (bool, error) {
	n, err := unlockScript.Run(ctx, c.cmd, []string{LockKeyPrefix + name}, holderID).Int()
	if err != nil {
		return false, errors.Wrapf(err, "unlock %s", name)
	}
	return n == 1, nil
}

// NewLock 绑定锁名、TTL 与一个新的持有者标识。
func (c *LockClient) NewLock(name string, ttl time.Duration) *Lock {
	return &Lock{
		client: c,
		name:   name,
		holder: c.NewHolderID(),
		ttl:    ttl,
	}
}

// Lock 某次持有的锁；每次加锁都应配套一次 Unlock（通常 defer）。
type Lock struct {
	client *LockClient
	name   string
	holder string
	ttl    time.Duration
}

func (l *Lock) Key() string      { return LockKeyPrefix + l.name }
func (l *Lock) HolderID() string { return l.holder }

func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	return l.client.TryLock(ctx, l.name, l.holder, l.ttl)
}

func (l *Lock) Lock(ctx context.Context, wait time.Duration) error {
	return l.client.Lock(ctx, l.name, l.holder, l.ttl, wait)
}

func (l *Lock) Unlock(ctx context.Context) (bool, error) {
	return l.client.Unlock(ctx, l.name, l.holder)
}
