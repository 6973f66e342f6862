package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type VoucherOrderRepository struct {
	db *gorm.DB
}

func NewVoucherOrderRepository(db *gorm.DB) *VoucherOrderRepository {
	return &VoucherOrderRepository{db: db}
}

// CreateSeckillOrder 在一个事务内完成：一人一单复查 -> 扣减落库库存 -> 插入订单。
// 任一步失败整体回滚，不会出现扣了库存却没有订单（或反之）的情况。
func (r *VoucherOrderRepository) CreateSeckillOrder(ctx context.Context, order model.VoucherOrder) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cnt, err := countByUserVoucher(tx, order.UserID, order.VoucherID)
		if err != nil {
			return err
		}
		if cnt > 0 {
			return ErrOrderExists
		}

		affected, err := DecrStock(tx, order.VoucherID)
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrStockEmpty
		}

		if err := tx.Create(&order).Error; err != nil {
			return errors.Wrapf(err, "insert voucher order %d", order.ID)
		}
		return nil
	})
}

// GetByID found=false 表示订单尚未落库（仍在队列中或已失败）。
func (r *VoucherOrderRepository) GetByID(ctx context.Context, id int64) (model.VoucherOrder, bool, error) {
	var o model.VoucherOrder
	err := r.db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.VoucherOrder{}, false, nil
	}
	if err != nil {
		return model.VoucherOrder{}, false, errors.Wrapf(err, "query voucher order %d", id)
	}
	return o, true, nil
}

func (r *VoucherOrderRepository) CountByUserVoucher(ctx context.Context, userID, voucherID int64) (int64, error) {
	return countByUserVoucher(r.db.WithContext(ctx), userID, voucherID)
}

func (r *VoucherOrderRepository) ListByVoucher(ctx context.Context, voucherID int64) ([]model.VoucherOrder, error) {
	var list []model.VoucherOrder
	err := r.db.WithContext(ctx).Where("voucher_id = ?", voucherID).Order("id").Find(&list).Error
	return list, errors.Wrapf(err, "list orders of voucher %d", voucherID)
}

func countByUserVoucher(db *gorm.DB, userID, voucherID int64) (int64, error) {
	var cnt int64
	err := db.Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&cnt).Error
	if err != nil {
		return 0, errors.Wrap(err, "count voucher orders")
	}
	return cnt, nil
}
