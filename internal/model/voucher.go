package model

import "time"

// SeckillVoucher 秒杀券活动：库存与秒杀时间段。
// Stock 是落库的权威库存；活动期间的实时扣减走 Redis 计数器。
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primarykey;autoIncrement:false" json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (SeckillVoucher) TableName() string { return "seckill_vouchers" }

// Active 判断 t 是否处于秒杀时间段内。
func (v SeckillVoucher) Active(t time.Time) bool {
	return !t.Before(v.BeginTime) && !t.After(v.EndTime)
}
