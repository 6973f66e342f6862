package model

import "time"

// VoucherOrder 秒杀券订单，由异步消费者创建，创建后不再修改。
// (user_id, voucher_id) 唯一索引兜底一人一单。
type VoucherOrder struct {
	ID        int64     `gorm:"primarykey;autoIncrement:false" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:uk_user_voucher" json:"user_id"`
	VoucherID int64     `gorm:"not null;uniqueIndex:uk_user_voucher" json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (VoucherOrder) TableName() string { return "voucher_orders" }
