package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/service"
)

// RegistrationIDHeader 街机终端携带准入凭据的请求头
const RegistrationIDHeader = "X-Registration-ID"

// KioskMiddleware 街机终端准入校验中间件
type KioskMiddleware struct {
	admissionService service.AdmissionService
}

// NewKioskMiddleware 创建终端准入中间件
func NewKioskMiddleware(admissionService service.AdmissionService) *KioskMiddleware {
	return &KioskMiddleware{
		admissionService: admissionService,
	}
}

// RequireApproved 仅放行已批准的终端
func (m *KioskMiddleware) RequireApproved() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(RegistrationIDHeader)
		if raw == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    apperrors.ErrAuthentication,
				"message": "缺少终端注册凭据",
			})
			c.Abort()
			return
		}

		registrationID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    apperrors.ErrInvalidParam,
				"message": "终端注册凭据格式错误",
			})
			c.Abort()
			return
		}

		registration, err := m.admissionService.RequireApproved(c.Request.Context(), uint(registrationID))
		if err != nil {
			status := http.StatusInternalServerError
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				status = appErr.HTTPStatus()
			}
			c.JSON(status, gin.H{
				"code":    apperrors.GetCode(err),
				"message": "终端未通过准入",
			})
			c.Abort()
			return
		}

		// 将终端信息存入上下文
		c.Set("registrationID", registration.ID)
		c.Set("kioskName", registration.KioskName)

		c.Next()
	}
}

// GetRegistrationID 从上下文获取终端注册ID
func GetRegistrationID(c *gin.Context) (uint, bool) {
	if registrationID, exists := c.Get("registrationID"); exists {
		if id, ok := registrationID.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// GetKioskName 从上下文获取终端名称
func GetKioskName(c *gin.Context) (string, bool) {
	if name, exists := c.Get("kioskName"); exists {
		if n, ok := name.(string); ok {
			return n, true
		}
	}
	return "", false
}
