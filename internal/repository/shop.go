package repository

import (
	"context"

	"seckill/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

// GetByID found=false 表示记录不存在。
func (r *ShopRepository) GetByID(ctx context.Context, id int64) (model.Shop, bool, error) {
	var s model.Shop
	err := r.db.WithContext(ctx).First(&s, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Shop{}, false, nil
	}
	if err != nil {
		return model.Shop{}, false, errors.Wrapf(err, "query shop %d", id)
	}
	return s, true, nil
}

func (r *ShopRepository) Save(ctx context.Context, s *model.Shop) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(s).Error, "insert shop")
}

// Update 按 ID 更新非零字段，记录不存在时返回 ErrNotFound。
func (r *ShopRepository) Update(ctx context.Context, s model.Shop) error {
	res := r.db.WithContext(ctx).Model(&model.Shop{}).
		Where("id = ?", s.ID).
		Omit("id", "created_at").
		Updates(&s)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update shop %d", s.ID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
