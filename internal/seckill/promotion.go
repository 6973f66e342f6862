package seckill

import (
	"context"
	"strconv"
	"time"

	"seckill/internal/model"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// defaultMissingTTL 不存在的券在本地缓存的时长
const defaultMissingTTL = 30 * time.Second

// VoucherGetter 持久化存储中的秒杀券。
type VoucherGetter interface {
	GetByID(ctx context.Context, voucherID int64) (model.SeckillVoucher, bool, error)
}

// missingVoucher 本地缓存里的"券不存在"标记，防止未知券号每次都打到数据库
type missingVoucher struct{}

// PromotionCache 进程内缓存秒杀时间段，资格校验的常态路径不访问数据库。
// 同一张券的并发回源经 singleflight 合并，每个进程每次过期只回源一次。
type PromotionCache struct {
	vouchers   VoucherGetter
	local      *gocache.Cache
	sf         singleflight.Group
	missingTTL time.Duration
	now        func() time.Time
}

func NewPromotionCache(vouchers VoucherGetter, ttl time.Duration) *PromotionCache {
	missingTTL := defaultMissingTTL
	if ttl < missingTTL {
		missingTTL = ttl
	}
	return &PromotionCache{
		vouchers:   vouchers,
		local:      gocache.New(ttl, 2*ttl),
		missingTTL: missingTTL,
		now:        time.Now,
	}
}

// Put 新增或修改秒杀券后直接刷新本地缓存。
func (p *PromotionCache) Put(v model.SeckillVoucher) {
	p.local.SetDefault(strconv.FormatInt(v.VoucherID, 10), v)
}

// Check 校验当前时间是否在秒杀时间段内。
func (p *PromotionCache) Check(ctx context.Context, voucherID int64) error {
	v, err := p.get(ctx, voucherID)
	if err != nil {
		return err
	}
	now := p.now()
	if v.Active(now) {
		return nil
	}
	if now.Before(v.BeginTime) {
		return ErrNotStarted
	}
	return ErrEnded
}

func (p *PromotionCache) get(ctx context.Context, voucherID int64) (model.SeckillVoucher, error) {
	key := strconv.FormatInt(voucherID, 10)
	if v, ok := p.local.Get(key); ok {
		return cached(v)
	}
	v, err, _ := p.sf.Do(key, func() (any, error) {
		// 合并期间可能已有人回填
		if v, ok := p.local.Get(key); ok {
			return v, nil
		}
		v, found, err := p.vouchers.GetByID(context.WithoutCancel(ctx), voucherID)
		if err != nil {
			return nil, err
		}
		if !found {
			p.local.Set(key, missingVoucher{}, p.missingTTL)
			return missingVoucher{}, nil
		}
		p.local.SetDefault(key, v)
		return v, nil
	})
	if err != nil {
		return model.SeckillVoucher{}, err
	}
	return cached(v)
}

func cached(v any) (model.SeckillVoucher, error) {
	if voucher, ok := v.(model.SeckillVoucher); ok {
		return voucher, nil
	}
	return model.SeckillVoucher{}, ErrVoucherNotFound
}
