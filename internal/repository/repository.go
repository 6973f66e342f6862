package repository

import (
	"seckill/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrStockEmpty  = errors.New("seckill voucher stock exhausted")
	ErrOrderExists = errors.New("voucher order already exists for user")
)

// InitTables 自动建表。
func InitTables(db *gorm.DB) error {
	return db.AutoMigrate(&model.Shop{}, &model.SeckillVoucher{}, &model.VoucherOrder{})
}
