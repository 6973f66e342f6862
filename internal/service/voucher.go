package service

import (
	"context"

	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/seckill"
	rediskey "seckill/pkg/redis"

	"github.com/pkg/errors"
	rd "github.com/redis/go-redis/v9"
)

var ErrInvalidVoucher = errors.New("invalid seckill voucher")

// VoucherService 秒杀券管理：落库并把库存预热到缓存。
type VoucherService struct {
	repo       *repository.VoucherRepository
	cmd        rd.Cmdable
	promotions *seckill.PromotionCache
}

func NewVoucherService(repo *repository.VoucherRepository, cmd rd.Cmdable, promotions *seckill.PromotionCache) *VoucherService {
	return &VoucherService{repo: repo, cmd: cmd, promotions: promotions}
}

// AddSeckillVoucher 新增秒杀券。缓存库存只在这里初始化一次，活动期间不再由数据库覆盖。
func (s *VoucherService) AddSeckillVoucher(ctx context.Context, v *model.SeckillVoucher) error {
	switch {
	case v.VoucherID <= 0:
		return errors.Wrap(ErrInvalidVoucher, "voucher_id is required")
	case v.Stock < 0:
		return errors.Wrap(ErrInvalidVoucher, "stock must be >= 0")
	case !v.EndTime.After(v.BeginTime):
		return errors.Wrap(ErrInvalidVoucher, "end_time must be after begin_time")
	}
	if err := s.repo.Save(ctx, v); err != nil {
		return err
	}
	key := rediskey.SeckillStockKey(v.VoucherID)
	if err := s.cmd.Set(ctx, key, v.Stock, 0).Err(); err != nil {
		return errors.Wrapf(err, "preload stock %s", key)
	}
	s.promotions.Put(*v)
	return nil
}

// Stock 缓存侧剩余库存，未预热视为 0。
func (s *VoucherService) Stock(ctx context.Context, voucherID int64) (int64, error) {
	n, err := s.cmd.Get(ctx, rediskey.SeckillStockKey(voucherID)).Int64()
	if errors.Is(err, rd.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read stock of voucher %d", voucherID)
	}
	return n, nil
}
