package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"seckill/internal/config"
	"seckill/internal/event"
	"seckill/internal/metrics"
	"seckill/internal/middleware"
	"seckill/internal/repository"
	"seckill/internal/router"
	"seckill/internal/seckill"
	"seckill/internal/service"
	"seckill/pkg/cache"
	rediskey "seckill/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	promotionCacheTTL = 5 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg config.AppConfig) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	// 1. 连接 SQLite，自动建表
	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		return err
	}
	if err := repository.InitTables(db); err != nil {
		return err
	}

	// 2. Redis
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() { _ = rdb.Close() }()
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return err
	}

	// 3. 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. 组件：每个只构造一次，按引用注入
	shopRepo := repository.NewShopRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	orderRepo := repository.NewVoucherOrderRepository(db)
	locks := rediskey.NewLockClient(rdb)

	pool := cache.NewRebuildPool(cfg.CacheRebuildWorkers, logger)
	cacheClient := cache.NewClient(rdb, locks, pool, logger,
		cache.WithNullTTL(cfg.CacheNullTTL),
		cache.WithLockTTL(cfg.CacheLockTTL),
		cache.WithMetrics(m))

	promotions := seckill.NewPromotionCache(voucherRepo, promotionCacheTTL)
	queue := seckill.NewOrderQueue(cfg.SeckillQueueCapacity)
	workerOpts := []seckill.WorkerOption{
		seckill.WithOrderLockTTL(cfg.OrderLockTTL),
		seckill.WithOrderLockWait(cfg.OrderLockWait),
		seckill.WithMaxAttempts(cfg.OrderMaxAttempts),
		seckill.WithWorkerMetrics(m),
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := event.NewProducer(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		defer func() { _ = producer.Close() }()
		workerOpts = append(workerOpts, seckill.WithPublisher(producer))
		logger.Info("order events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaOrderTopic))
	}
	worker := seckill.NewWorker(queue, orderRepo, locks, rdb, logger, workerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// 进程级 ctx 只在 Worker 排空之后才取消
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()
	worker.Start(workerCtx)

	// 5. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(logger))
	router.Setup(r, router.Deps{
		Shops:    service.NewShopService(shopRepo, cacheClient, cfg.ShopCacheStrategy, cfg.CacheShopTTL, logger),
		Vouchers: service.NewVoucherService(voucherRepo, rdb, promotions),
		Seckill:  seckill.NewService(rdb, rediskey.NewIDWorker(rdb), queue, promotions, logger, m),
		Orders:   orderRepo,
		Redis:    rdb,
		Gatherer: reg,
		Logger:   logger,
	}, cfg)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr),
			zap.String("shop_cache_strategy", cfg.ShopCacheStrategy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	// 先停入口，再排空建单队列，最后等待缓存重建
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	worker.Stop()
	pool.Close()
	logger.Info("stopped", zap.Int("pending_orders", queue.Len()))
	return err
}
