package middleware

import (
	"fmt"
	"net/http"
	"time"

	"seckill/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 滑动窗口限流：ZSET 记录窗口内每次请求的时间戳（毫秒），整体原子执行
// KEYS[1]=限流key ARGV[1]=当前时间 ARGV[2]=窗口起点 ARGV[3]=窗口毫秒数 ARGV[4]=成员 ARGV[5]=阈值
// 返回窗口内请求数，超限返回 -1
var rateLimitScript = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local windowStart = tonumber(ARGV[2])
local windowMs = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)
local count = redis.call('ZCARD', key)
if count < tonumber(ARGV[5]) then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, windowMs)
  return count + 1
end
return -1
`)

// RedisRateLimit 按用户分布式限流（无用户身份时退化为按 IP）。
// Redis 不可用时放行，限流失效好过整条下单链路不可用。
func RedisRateLimit(cmd rd.Cmdable, limit int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("ratelimit")
	return func(c *gin.Context) {
		key := "rate_limit:seckill:ip:" + c.ClientIP()
		if u, ok := auth.UserFrom(c.Request.Context()); ok {
			key = fmt.Sprintf("rate_limit:seckill:user:%d", u.ID)
		}

		now := time.Now().UnixMilli()
		windowMs := window.Milliseconds()
		res, err := rateLimitScript.Run(c.Request.Context(), cmd, []string{key},
			now, now-windowMs, windowMs, uuid.NewString(), limit).Int()
		if err != nil {
			logger.Warn("rate limit check failed, pass through", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if res < 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": 429,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}
