package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"taskhub/internal/api/respond"
	"taskhub/internal/model"
	"taskhub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// 上下文键，认证中间件写入、处理器读取。
const (
	CtxUserIDKey = "userID"
	CtxUserKey   = "currentUser"
)

// UserLoader 按 ID 加载用户，供令牌校验确认主体仍然存在。
type UserLoader interface {
	LoadUser(ctx context.Context, id uint) (*model.User, error)
}

// AuthMiddleware 校验 Bearer JWT 并将当前用户写入上下文。
//
// 以下情况一律返回 401：缺少令牌、头格式错误、签名无效、令牌过期、
// 主体对应的用户不存在或已停用。
func AuthMiddleware(jwtSecret string, users UserLoader) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "no token")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization header")
			return
		}

		tokenStr := parts[1]
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "token expired")
				return
			}
			abortUnauthorized(c, "invalid token")
			return
		}

		uid, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil || uid == 0 {
			abortUnauthorized(c, "invalid token subject")
			return
		}

		user, err := users.LoadUser(c.Request.Context(), uint(uid))
		if err != nil || user == nil || !user.IsActive {
			abortUnauthorized(c, "account not found or deactivated")
			return
		}

		c.Set(CtxUserIDKey, user.ID)
		c.Set(CtxUserKey, user)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	metrics.AuthFailureTotal.Inc()
	respond.Error(c, http.StatusUnauthorized, message)
	c.Abort()
}

// UserID 返回认证中间件写入的当前用户 ID。
func UserID(c *gin.Context) uint {
	if v, ok := c.Get(CtxUserIDKey); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// CurrentUser 返回认证中间件写入的当前用户，未认证时为 nil。
func CurrentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(CtxUserKey); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}
