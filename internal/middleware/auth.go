package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/service"
)

// AuthMiddleware 运营端JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(authService service.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := m.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    apperrors.ErrTokenInvalid,
				"message": "缺少认证令牌",
			})
			c.Abort()
			return
		}

		// 验证令牌
		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			code := apperrors.ErrTokenInvalid
			if apperrors.Is(err, apperrors.ErrTokenExpired) {
				code = apperrors.ErrTokenExpired
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": "无效的令牌",
			})
			c.Abort()
			return
		}

		// 将运营账号信息存入上下文
		c.Set("operatorID", claims.OperatorID)
		c.Set("operatorName", claims.Username)
		c.Set("operatorRole", claims.Role)
		c.Set("token", token)

		c.Next()
	}
}

// RequireRole 需要特定角色的中间件
//
// 在RequireAuth之后使用，直接检查上下文中的角色。
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := GetOperatorRole(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    apperrors.ErrAuthentication,
				"message": "未登录",
			})
			c.Abort()
			return
		}

		hasRole := false
		for _, r := range roles {
			if role == r {
				hasRole = true
				break
			}
		}

		if !hasRole {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    apperrors.ErrPermissionDenied,
				"message": "权限不足",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractToken 从请求中提取令牌
func (m *AuthMiddleware) extractToken(c *gin.Context) string {
	// 1. 从Authorization Header获取 (Bearer Token)
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. 从X-Access-Token Header获取
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 从Query参数获取（事件流连接无法携带Header时使用）
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetOperatorID 从上下文获取运营账号ID
func GetOperatorID(c *gin.Context) (uint, bool) {
	if operatorID, exists := c.Get("operatorID"); exists {
		if id, ok := operatorID.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// GetOperatorName 从上下文获取运营账号用户名
func GetOperatorName(c *gin.Context) (string, bool) {
	if name, exists := c.Get("operatorName"); exists {
		if n, ok := name.(string); ok {
			return n, true
		}
	}
	return "", false
}

// GetOperatorRole 从上下文获取运营账号角色
func GetOperatorRole(c *gin.Context) (string, bool) {
	if role, exists := c.Get("operatorRole"); exists {
		if r, ok := role.(string); ok {
			return r, true
		}
	}
	return "", false
}

