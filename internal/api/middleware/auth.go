package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/print_go_server/internal/pkg/jwt"
	"github.com/qs3c/print_go_server/internal/pkg/response"
)

const (
	UserIDKey  = "userID"
	IsAdminKey = "isAdmin"
)

// AdminAuth 运营后台认证中间件，要求凭证带管理员标记
func AdminAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.AuthError(c, "请提供认证信息")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			response.AuthError(c, "认证格式错误")
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			response.AuthError(c, "认证失败或已过期")
			c.Abort()
			return
		}

		if !claims.IsAdmin {
			response.PermissionError(c, "需要管理员权限")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(IsAdminKey, true)
		c.Next()
	}
}

// IsAdmin 从上下文判断当前请求是否为管理员
func IsAdmin(c *gin.Context) bool {
	v, exists := c.Get(IsAdminKey)
	if !exists {
		return false
	}
	admin, ok := v.(bool)
	return ok && admin
}
