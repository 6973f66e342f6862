package redis

import (
	"fmt"
	"time"
)

// 缓存键前缀，按 {业务}:{模块}: 组织，调用方拼接 id。
const (
	// CacheShopKey 店铺缓存；空值标记复用同一个键，值为空串
	CacheShopKey = "cache:shop:"
	// LockKeyPrefix 所有分布式锁的公共前缀
	LockKeyPrefix = "lock:"
	// LockShopName 店铺缓存重建锁名（完整键为 lock:shop:<id>）
	LockShopName = "shop:"
	// LockOrderName 一人一单落单锁名（完整键为 lock:order:<userId>）
	LockOrderName = "order:"
	// IDCounterPrefix 每日自增序列
	IDCounterPrefix = "icr:"
)

// 默认过期时间
const (
	CacheNullTTL = 2 * time.Minute
	CacheShopTTL = 30 * time.Minute
	LockShopTTL  = 10 * time.Second
)

// SeckillStockKey 秒杀券缓存库存计数器。
func SeckillStockKey(voucherID int64) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// SeckillOrderKey 秒杀券已下单用户集合（一人一单去重）。
func SeckillOrderKey(voucherID int64) string {
	return fmt.Sprintf("seckill:order:%d", voucherID)
}

// SeckillCompensatedKey 标记某个订单号是否已做过缓存库存回补。
func SeckillCompensatedKey(orderID int64) string {
	return fmt.Sprintf("seckill:compensated:%d", orderID)
}

// FailedOrderKey 异步落单失败的订单台账，供人工对账。
func FailedOrderKey(orderID int64) string {
	return fmt.Sprintf("seckill:order:failed:%d", orderID)
}

// IDCounterKey 按业务前缀与自然日划分的自增序列键，例如 icr:order:2026:10:15。
func IDCounterKey(namespace string, day time.Time) string {
	return IDCounterPrefix + namespace + ":" + day.Format("2006:01:02")
}
