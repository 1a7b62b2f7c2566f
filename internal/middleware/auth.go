// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"pdf-ingest-go/pkg/token"
	"strings"

	"github.com/gin-gonic/gin"
)

const bearerPrefix = "Bearer "

// bearerToken 从 Authorization 请求头中提取 token。
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	return tokenString, tokenString != ""
}

// attachClaims 把 claims 同时放入 gin 上下文和请求 context。
func attachClaims(c *gin.Context, claims *token.CustomClaims) {
	c.Set("claims", claims)
	c.Request = c.Request.WithContext(token.WithClaims(c.Request.Context(), claims))
}

// SessionMiddleware 解析可选的会话：token 有效时附加 claims，否则照常放行，
// 由下游的会话校验决定是否拒绝。
func SessionMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := bearerToken(c); ok {
			if claims, err := jwtManager.VerifyToken(tokenString); err == nil {
				attachClaims(c, claims)
			}
		}
		c.Next()
	}
}

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 没有有效 token 的请求直接返回 401。
func AuthMiddleware(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "请求未包含授权头", "data": nil})
			return
		}

		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的授权头格式", "data": nil})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil || claims.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效或已过期的 token", "data": nil})
			return
		}

		attachClaims(c, claims)
		c.Next()
	}
}
