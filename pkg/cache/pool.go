package cache

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RebuildPool 有界的缓存重建协程池。池满或已关闭时拒绝新任务而不是排队，
// 同一个 key 的重复重建由重建锁去重，而不是由池去重。
type RebuildPool struct {
	mu     sync.RWMutex
	closed bool
	g      errgroup.Group
	logger *zap.Logger
}

func NewRebuildPool(size int, logger *zap.Logger) *RebuildPool {
	p := &RebuildPool{logger: logger.Named("rebuild-pool")}
	p.g.SetLimit(size)
	return p
}

// TrySubmit 非阻塞提交，返回 false 表示任务未被接收。任务内的 panic 会被吞掉并记录。
func (p *RebuildPool) TrySubmit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.g.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("rebuild task panic", zap.Any("panic", r))
			}
		}()
		task()
		return nil
	})
}

// Close 停止接收任务并等待在途任务结束。
func (p *RebuildPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	_ = p.g.Wait()
}
