package seckill

import (
	"context"
	"sync"
)

// OrderQueue 有界的进程内建单队列：入队不阻塞，满了直接失败；出队在队列为空时挂起。
type OrderQueue struct {
	mu     sync.RWMutex
	closed bool
	ch     chan PendingOrder
}

func NewOrderQueue(capacity int) *OrderQueue {
	return &OrderQueue{ch: make(chan PendingOrder, capacity)}
}

func (q *OrderQueue) Offer(task PendingOrder) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrPipelineClosed
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Take 队列关闭后仍会先返回剩余任务，取完后返回 ErrPipelineClosed。
func (q *OrderQueue) Take(ctx context.Context) (PendingOrder, error) {
	select {
	case task, ok := <-q.ch:
		if !ok {
			return PendingOrder{}, ErrPipelineClosed
		}
		return task, nil
	case <-ctx.Done():
		return PendingOrder{}, ctx.Err()
	}
}

func (q *OrderQueue) Len() int { return len(q.ch) }

// Close 拒绝新任务，已入队的任务仍可被取出。
func (q *OrderQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
