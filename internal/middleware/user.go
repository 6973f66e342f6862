package middleware

import (
	"net/http"
	"strconv"

	"seckill/internal/auth"

	"github.com/gin-gonic/gin"
)

// HeaderUserID 网关校验登录态后透传的用户ID。
const HeaderUserID = "X-User-ID"

// UserIdentity 把调用方身份放进请求 ctx，缺失或非法时直接 401。
func UserIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := strconv.ParseInt(c.GetHeader(HeaderUserID), 10, 64)
		if err != nil || uid <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "未登录"})
			return
		}
		ctx := auth.WithUser(c.Request.Context(), auth.User{ID: uid})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminOnly 管理接口的简单令牌校验。
func AdminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}
