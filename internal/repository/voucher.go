package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type VoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *VoucherRepository {
	return &VoucherRepository{db: db}
}

func (r *VoucherRepository) GetByID(ctx context.Context, voucherID int64) (model.SeckillVoucher, bool, error) {
	var v model.SeckillVoucher
	err := r.db.WithContext(ctx).First(&v, voucherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.SeckillVoucher{}, false, nil
	}
	if err != nil {
		return model.SeckillVoucher{}, false, errors.Wrapf(err, "query seckill voucher %d", voucherID)
	}
	return v, true, nil
}

func (r *VoucherRepository) Save(ctx context.Context, v *model.SeckillVoucher) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(v).Error, "insert seckill voucher")
}

// DecrStock 执行 "stock = stock - 1 WHERE stock > 0"，依赖数据库行锁保证单条语句原子。
// 返回受影响行数，0 表示库存已空或券不存在。
func DecrStock(db *gorm.DB, voucherID int64) (int64, error) {
	res := db.Model(&model.SeckillVoucher{}).
		Where("voucher_id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - ?", 1))
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "decr stock of voucher %d", voucherID)
	}
	return res.RowsAffected, nil
}
