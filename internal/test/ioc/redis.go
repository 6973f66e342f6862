package ioc

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// InitRedis 启动进程内的 miniredis（支持 Lua 脚本），返回客户端和服务端句柄，
// 服务端句柄可用于 FastForward 推进 TTL。
func InitRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}
