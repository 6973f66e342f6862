package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 店铺缓存读取策略
const (
	StrategyPassThrough = "passthrough"
	StrategyMutex       = "mutex"
	StrategyLogical     = "logical"
)

// AppConfig 聚合运行时配置，尽量通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogDev   bool

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔），为空时不发布下单事件
	KafkaBrokers    []string
	KafkaOrderTopic string

	// 购买接口限流
	BuyRateLimit  int
	BuyRateWindow time.Duration

	// 秒杀异步建单：队列容量、用户锁与重试
	SeckillQueueCapacity int
	OrderLockTTL         time.Duration
	OrderLockWait        time.Duration
	OrderMaxAttempts     int

	// 店铺缓存：正常 TTL、空值 TTL、重建锁 TTL、重建协程数
	CacheShopTTL        time.Duration
	CacheNullTTL        time.Duration
	CacheLockTTL        time.Duration
	CacheRebuildWorkers int
	ShopCacheStrategy   string

	// 管理接口（新增秒杀券、预热热点店铺）的简单令牌
	AdminToken string
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		DBPath:          getEnv("DB_PATH", "seckill.db"),
		LogDev:          getEnv("LOG_DEV", "false") == "true",
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:    splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaOrderTopic: getEnv("KAFKA_ORDER_TOPIC", "seckill-voucher-orders"),
		AdminToken:      getEnv("ADMIN_TOKEN", "dev-admin-token"),
		ShopCacheStrategy: strings.ToLower(
			getEnv("SHOP_CACHE_STRATEGY", StrategyMutex)),
	}

	ints := []struct {
		env      string
		fallback int
		dst      *int
	}{
		{"REDIS_DB", 0, &cfg.RedisDB},
		{"BUY_RATE_LIMIT", 1000, &cfg.BuyRateLimit},
		{"SECKILL_QUEUE_CAPACITY", 1 << 16, &cfg.SeckillQueueCapacity},
		{"ORDER_MAX_ATTEMPTS", 3, &cfg.OrderMaxAttempts},
		{"CACHE_REBUILD_WORKERS", 10, &cfg.CacheRebuildWorkers},
	}
	for _, it := range ints {
		v, err := getEnvInt(it.env, it.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", it.env, err)
		}
		*it.dst = v
	}

	durations := []struct {
		env      string
		fallback int
		unit     time.Duration
		dst      *time.Duration
	}{
		{"BUY_RATE_WINDOW_SEC", 1, time.Second, &cfg.BuyRateWindow},
		{"ORDER_LOCK_TTL_SEC", 10, time.Second, &cfg.OrderLockTTL},
		{"ORDER_LOCK_WAIT_MS", 3000, time.Millisecond, &cfg.OrderLockWait},
		{"CACHE_SHOP_TTL_MIN", 30, time.Minute, &cfg.CacheShopTTL},
		{"CACHE_NULL_TTL_MIN", 2, time.Minute, &cfg.CacheNullTTL},
		{"CACHE_LOCK_TTL_SEC", 10, time.Second, &cfg.CacheLockTTL},
	}
	for _, d := range durations {
		v, err := getEnvInt(d.env, d.fallback)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid %s: %w", d.env, err)
		}
		if v <= 0 {
			return AppConfig{}, fmt.Errorf("%s must be > 0", d.env)
		}
		*d.dst = time.Duration(v) * d.unit
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (cfg AppConfig) validate() error {
	if cfg.BuyRateLimit <= 0 {
		return fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	if cfg.SeckillQueueCapacity <= 0 {
		return fmt.Errorf("SECKILL_QUEUE_CAPACITY must be > 0")
	}
	if cfg.OrderMaxAttempts <= 0 {
		return fmt.Errorf("ORDER_MAX_ATTEMPTS must be > 0")
	}
	if cfg.CacheRebuildWorkers <= 0 {
		return fmt.Errorf("CACHE_REBUILD_WORKERS must be > 0")
	}
	switch cfg.ShopCacheStrategy {
	case StrategyPassThrough, StrategyMutex, StrategyLogical:
	default:
		return fmt.Errorf("SHOP_CACHE_STRATEGY must be one of passthrough, mutex, logical")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaOrderTopic == "" {
		return fmt.Errorf("KAFKA_ORDER_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN must not be empty")
	}
	return nil
}

// getEnv 读取字符串环境变量，若为空则返回默认值。
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt 读取整数环境变量，若为空则返回默认值。
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
