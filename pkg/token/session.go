package token

import "context"

// SessionUser 是从会话中解析出的调用者身份。
type SessionUser struct {
	ID       string
	Username string
}

type claimsKey struct{}

// WithClaims 将已验证的 claims 放入 context，供下游解析会话。
func WithClaims(ctx context.Context, claims *CustomClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext 取出 WithClaims 放入的 claims。
func ClaimsFromContext(ctx context.Context) (*CustomClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*CustomClaims)
	return claims, ok && claims != nil
}

// ContextSessionResolver 从请求 context 中解析会话用户。
// 没有会话时返回 (nil, nil)。
type ContextSessionResolver struct{}

// GetUser 实现会话解析。
func (ContextSessionResolver) GetUser(ctx context.Context) (*SessionUser, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, nil
	}
	return &SessionUser{ID: claims.UserID, Username: claims.Username}, nil
}
