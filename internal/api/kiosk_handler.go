package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/service"
)

// KioskHandler 终端准入处理器
type KioskHandler struct {
	admissionService service.AdmissionService
}

// NewKioskHandler 创建终端准入处理器
func NewKioskHandler(admissionService service.AdmissionService) *KioskHandler {
	return &KioskHandler{
		admissionService: admissionService,
	}
}

// Register 终端注册
// @Summary 终端注册
// @Description 通过会话口令申请加入，返回待审批的注册记录
// @Tags Kiosk
// @Accept json
// @Produce json
// @Param request body service.RegisterKioskRequest true "注册信息"
// @Success 201 {object} models.KioskRegistration
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/kiosk/registrations [post]
func (h *KioskHandler) Register(c *gin.Context) {
	var req service.RegisterKioskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	reg, err := h.admissionService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, reg)
}

// GetRegistration 查询注册状态
// @Summary 查询注册状态
// @Description 终端轮询自己的审批结果，不需要准入凭据
// @Tags Kiosk
// @Produce json
// @Param id path int true "注册ID"
// @Success 200 {object} models.KioskRegistration
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/kiosk/registrations/{id} [get]
func (h *KioskHandler) GetRegistration(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    apperrors.ErrInvalidParam,
			Message: "注册ID格式错误",
		})
		return
	}

	reg, err := h.admissionService.GetRegistration(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, reg)
}
