package middleware

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
)

const userKey = "user"

// Authenticator 校验访问令牌
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.User, error)
}

// RequireAuth 要求有效的 Bearer 访问令牌，否则返回 401
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWithError(c, apperr.ErrMissingBearer)
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			e, ok := apperr.As(err)
			if !ok {
				e = apperr.ErrInvalidToken
			}
			abortWithError(c, e)
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// RequireRoles 限制可访问的角色，需在 RequireAuth 之后使用
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := GetCurrentUser(c)
		if !ok {
			abortWithError(c, apperr.ErrMissingBearer)
			return
		}
		if !slices.Contains(roles, user.Role) {
			abortWithError(c, apperr.ErrForbidden)
			return
		}
		c.Next()
	}
}

// GetCurrentUser 从上下文获取当前用户
func GetCurrentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return nil, false
	}
	u, ok := v.(*model.User)
	return u, ok
}

// GetUserID 从上下文获取当前用户 ID
func GetUserID(c *gin.Context) string {
	if u, ok := GetCurrentUser(c); ok {
		return u.ID
	}
	return ""
}
