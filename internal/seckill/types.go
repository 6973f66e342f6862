package seckill

import (
	"github.com/pkg/errors"
)

var (
	// ErrSoldOut 与 ErrDuplicateOrder 是预期内的业务拒绝，不可重试
	ErrSoldOut        = errors.New("seckill voucher sold out")
	ErrDuplicateOrder = errors.New("user already ordered this voucher")

	ErrVoucherNotFound = errors.New("seckill voucher not found")
	ErrNotStarted      = errors.New("seckill not started")
	ErrEnded           = errors.New("seckill ended")
	ErrNoUser          = errors.New("no authenticated user in context")

	// ErrQueueFull 建单队列已满，属于瞬时容量问题，调用方可退避后重试
	ErrQueueFull      = errors.New("seckill order queue is full")
	ErrPipelineClosed = errors.New("seckill pipeline closed")
)

// 资格校验脚本返回码
const (
	codeAccepted  = 0
	codeSoldOut   = 1
	codeDuplicate = 2
)

// orderIDNamespace 订单号的自增序列命名空间
const orderIDNamespace = "order"

// PendingOrder 资格校验通过、等待异步落库的建单任务。
type PendingOrder struct {
	OrderID   int64
	UserID    int64
	VoucherID int64
}

// IsRetryable 判断错误是否是瞬时性的，调用方可以稍后重试。
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrPipelineClosed)
}
