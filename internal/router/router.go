package router

import (
	"net/http"
	"strconv"
	"time"

	"seckill/internal/config"
	"seckill/internal/middleware"
	"seckill/internal/model"
	"seckill/internal/repository"
	"seckill/internal/seckill"
	"seckill/internal/service"
	rediskey "seckill/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// retryAfterSeconds 瞬时失败时建议客户端的退避时间
const retryAfterSeconds = "1"

// Deps 路由依赖的组件，在 main 中构造一次后注入。
type Deps struct {
	Shops    *service.ShopService
	Vouchers *service.VoucherService
	Seckill  *seckill.Service
	Orders   *repository.VoucherOrderRepository
	Redis    rd.Cmdable
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps, cfg config.AppConfig) {
	h := &handler{Deps: d, logger: d.Logger.Named("http")}
	admin := middleware.AdminOnly(cfg.AdminToken)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))

	// 店铺
	r.GET("/shop/:id", h.getShop)
	r.PUT("/shop", h.updateShop)
	r.POST("/shop/:id/warmup", admin, h.warmUpShop)

	// 秒杀券
	r.POST("/voucher/seckill", admin, h.addSeckillVoucher)
	r.GET("/voucher/seckill/:id/stock", h.getStock)

	// 秒杀下单
	r.POST("/voucher-order/seckill/:id",
		middleware.UserIdentity(),
		middleware.RedisRateLimit(d.Redis, cfg.BuyRateLimit, cfg.BuyRateWindow, d.Logger),
		h.seckill)
	r.GET("/voucher-order/:id", h.getOrder)
}

type handler struct {
	Deps
	logger *zap.Logger
}

func (h *handler) getShop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	shop, err := h.Shops.QueryByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
}

func (h *handler) updateShop(c *gin.Context) {
	var shop model.Shop
	if err := c.ShouldBindJSON(&shop); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	if err := h.Shops.Update(c.Request.Context(), shop); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok"})
}

func (h *handler) warmUpShop(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		TTLSec int64 `json:"ttl_sec" binding:"omitempty,min=1"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
	}
	if err := h.Shops.WarmUp(c.Request.Context(), id, time.Duration(req.TTLSec)*time.Second); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
}

func (h *handler) addSeckillVoucher(c *gin.Context) {
	var req struct {
		VoucherID int64     `json:"voucher_id" binding:"required,min=1"`
		Stock     int64     `json:"stock" binding:"min=0"`
		BeginTime time.Time `json:"begin_time" binding:"required"`
		EndTime   time.Time `json:"end_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
		return
	}
	v := &model.SeckillVoucher{
		VoucherID: req.VoucherID,
		Stock:     req.Stock,
		BeginTime: req.BeginTime,
		EndTime:   req.EndTime,
	}
	if err := h.Vouchers.AddSeckillVoucher(c.Request.Context(), v); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
}

func (h *handler) getStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	stock, err := h.Vouchers.Stock(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
}

// seckill 下单只代表拿到资格，订单异步落库，通过 GET /voucher-order/:id 查询结果。
func (h *handler) seckill(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	orderID, err := h.Seckill.Seckill(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	// 订单号超出 JS 安全整数范围，以字符串返回
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": gin.H{
			"order_id": strconv.FormatInt(orderID, 10),
			"status":   "pending",
		},
	})
}

// getOrder 查询订单落库状态：已落库 created，进入失败台账 failed，其余视为 pending。
func (h *handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	order, found, err := h.Orders.GetByID(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if found {
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"status":     "created",
			"order_id":   strconv.FormatInt(order.ID, 10),
			"voucher_id": order.VoucherID,
			"created_at": order.CreatedAt,
		}})
		return
	}
	failed, found, err := rediskey.GetFailedOrder(ctx, h.Redis, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if found {
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"status":   "failed",
			"order_id": strconv.FormatInt(id, 10),
			"reason":   failed.Reason,
		}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
		"status":   "pending",
		"order_id": strconv.FormatInt(id, 10),
	}})
}

// fail 把领域错误映射为 HTTP 状态码。
func (h *handler) fail(c *gin.Context, err error) {
	status, msg := classify(err)
	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", retryAfterSeconds)
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, seckill.ErrSoldOut):
		return http.StatusBadRequest, "库存不足"
	case errors.Is(err, seckill.ErrDuplicateOrder):
		return http.StatusBadRequest, "该券已抢购过，限购一张"
	case errors.Is(err, seckill.ErrNotStarted):
		return http.StatusBadRequest, "秒杀尚未开始"
	case errors.Is(err, seckill.ErrEnded):
		return http.StatusBadRequest, "秒杀已经结束"
	case errors.Is(err, service.ErrInvalidVoucher), errors.Is(err, service.ErrShopIDRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, seckill.ErrNoUser):
		return http.StatusUnauthorized, "未登录"
	case errors.Is(err, seckill.ErrVoucherNotFound):
		return http.StatusNotFound, "秒杀券不存在"
	case errors.Is(err, service.ErrShopNotFound):
		return http.StatusNotFound, "店铺不存在"
	case errors.Is(err, seckill.ErrQueueFull), errors.Is(err, seckill.ErrPipelineClosed),
		errors.Is(err, rediskey.ErrLockTimeout):
		return http.StatusServiceUnavailable, "系统繁忙，请稍后重试"
	default:
		return http.StatusInternalServerError, "服务器内部错误"
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "id 无效"})
		return 0, false
	}
	return id, true
}
