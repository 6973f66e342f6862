package auth

import "context"

// User 已认证的调用方。认证本身（令牌校验、续期）在网关或中间件完成，这里只负责沿调用链显式传递。
type User struct {
	ID       int64
	NickName string
}

type userKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom ok=false 表示上下文中没有已认证用户。
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok && u.ID > 0
}
