package event

import (
	"time"

	"github.com/pkg/errors"
)

// OrderCreated 秒杀订单落库后发布的事件，下游（通知、对账）按需订阅。
type OrderCreated struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate 防止把不完整的事件写进 topic。
func (e OrderCreated) Validate() error {
	if e.OrderID <= 0 {
		return errors.New("order_id is required")
	}
	if e.UserID <= 0 {
		return errors.New("user_id is required")
	}
	if e.VoucherID <= 0 {
		return errors.New("voucher_id is required")
	}
	return nil
}
