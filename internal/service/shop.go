package service

import (
	"context"
	"time"

	"seckill/internal/config"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/pkg/cache"
	rediskey "seckill/pkg/redis"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrShopNotFound   = errors.New("shop not found")
	ErrShopIDRequired = errors.New("shop id is required")
)

// ShopService 店铺读写：读走缓存旁路（策略可配），写先更新数据库再删缓存。
type ShopService struct {
	repo     *repository.ShopRepository
	cache    *cache.Client
	family   cache.Family
	strategy string
	logger   *zap.Logger
}

func NewShopService(repo *repository.ShopRepository, c *cache.Client, strategy string, ttl time.Duration,
	logger *zap.Logger) *ShopService {
	return &ShopService{
		repo:  repo,
		cache: c,
		family: cache.Family{
			KeyPrefix:  rediskey.CacheShopKey,
			LockPrefix: rediskey.LockShopName,
			TTL:        ttl,
		},
		strategy: strategy,
		logger:   logger.Named("shop"),
	}
}

func (s *ShopService) QueryByID(ctx context.Context, id int64) (model.Shop, error) {
	var (
		shop  model.Shop
		found bool
		err   error
	)
	switch s.strategy {
	case config.StrategyPassThrough:
		shop, found, err = cache.QueryWithPassThrough(ctx, s.cache, s.family, id, s.repo.GetByID)
	case config.StrategyLogical:
		shop, found, err = cache.QueryWithLogicalExpire(ctx, s.cache, s.family, id, s.repo.GetByID)
	default:
		shop, found, err = cache.QueryWithMutex(ctx, s.cache, s.family, id, s.repo.GetByID)
	}
	if err != nil {
		return model.Shop{}, err
	}
	if !found {
		return model.Shop{}, ErrShopNotFound
	}
	return shop, nil
}

// Update 数据库写成功后删除缓存，下一次读取回源重建。
func (s *ShopService) Update(ctx context.Context, shop model.Shop) error {
	if shop.ID <= 0 {
		return ErrShopIDRequired
	}
	if err := s.repo.Update(ctx, shop); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrShopNotFound
		}
		return err
	}
	key := s.family.Key(shop.ID)
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Error("invalidate shop cache failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// WarmUp 预热热点店铺。逻辑过期策略写入逻辑过期信封，其余策略写普通缓存。
func (s *ShopService) WarmUp(ctx context.Context, id int64, ttl time.Duration) error {
	shop, found, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrShopNotFound
	}
	if ttl <= 0 {
		ttl = s.family.TTL
	}
	key := s.family.Key(id)
	if s.strategy == config.StrategyLogical {
		return s.cache.SetWithLogicalExpire(ctx, key, shop, ttl)
	}
	return s.cache.Set(ctx, key, shop, ttl)
}
