package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/retro-relay/internal/ledsign"
)

// LedSignHandler 灯牌状态处理器
type LedSignHandler struct {
	notifier *ledsign.Notifier
}

// NewLedSignHandler 创建灯牌状态处理器
func NewLedSignHandler(notifier *ledsign.Notifier) *LedSignHandler {
	return &LedSignHandler{
		notifier: notifier,
	}
}

// Status 灯牌状态
// @Summary 灯牌状态
// @Description 返回灯牌连接状态和当前灯效，未启用灯牌时enabled为false
// @Tags Operator
// @Produce json
// @Success 200 {object} SuccessResponse
// @Security BearerAuth
// @Router /api/v1/operator/ledsign/status [get]
func (h *LedSignHandler) Status(c *gin.Context) {
	status := h.notifier.Status()

	c.JSON(http.StatusOK, gin.H{
		"enabled": h.notifier.Enabled(),
		"status":  status,
	})
}
