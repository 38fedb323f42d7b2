package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/middleware"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/service"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// AdmissionHandler 准入审批处理器
type AdmissionHandler struct {
	admissionService service.AdmissionService
	sessionService   service.SessionService
	hub              *websocket.Hub
	log              *zap.Logger
}

// NewAdmissionHandler 创建准入审批处理器
func NewAdmissionHandler(admissionService service.AdmissionService, sessionService service.SessionService, hub *websocket.Hub, log *zap.Logger) *AdmissionHandler {
	return &AdmissionHandler{
		admissionService: admissionService,
		sessionService:   sessionService,
		hub:              hub,
		log:              log,
	}
}

// List 注册申请列表
// @Summary 注册申请列表
// @Description 按会话口令查询注册申请，status=pending时只返回待审批的
// @Tags Admission
// @Produce json
// @Param code query string true "会话口令"
// @Param status query string false "过滤状态，目前仅支持pending"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/admissions [get]
func (h *AdmissionHandler) List(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    apperrors.ErrInvalidParam,
			Message: "缺少会话口令",
		})
		return
	}

	if c.Query("status") == "pending" {
		regs, err := h.admissionService.ListPending(c.Request.Context(), code)
		if err != nil {
			respondError(c, err)
			return
		}
		respondPage(c, regs, int64(len(regs)), 1, len(regs))
		return
	}

	page, pageSize := pageParams(c)
	regs, total, err := h.admissionService.ListByCode(c.Request.Context(), code, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, regs, total, page, pageSize)
}

// Approve 批准注册
// @Summary 批准注册
// @Description 批准后终端即可携带注册凭据访问会话接口
// @Tags Admission
// @Produce json
// @Param id path int true "注册ID"
// @Success 200 {object} models.KioskRegistration
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/admissions/{id}/approve [post]
func (h *AdmissionHandler) Approve(c *gin.Context) {
	h.decide(c, h.admissionService.Approve)
}

// Deny 拒绝注册
// @Summary 拒绝注册
// @Tags Admission
// @Produce json
// @Param id path int true "注册ID"
// @Success 200 {object} models.KioskRegistration
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/admissions/{id}/deny [post]
func (h *AdmissionHandler) Deny(c *gin.Context) {
	h.decide(c, h.admissionService.Deny)
}

// decide 执行审批并广播结果
func (h *AdmissionHandler) decide(c *gin.Context, fn func(ctx context.Context, registrationID uint, operator string) (*models.KioskRegistration, error)) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    apperrors.ErrInvalidParam,
			Message: "注册ID格式错误",
		})
		return
	}

	operator, _ := middleware.GetOperatorName(c)

	reg, err := fn(c.Request.Context(), uint(id), operator)
	if err != nil {
		respondError(c, err)
		return
	}

	h.publishDecision(c, reg)
	c.JSON(http.StatusOK, reg)
}

// publishDecision 把审批结果广播到对应会话，口令已更换时跳过
func (h *AdmissionHandler) publishDecision(c *gin.Context, reg *models.KioskRegistration) {
	session, err := h.sessionService.ResolveByCode(c.Request.Context(), reg.SessionCode)
	if err != nil {
		h.log.Warn("审批结果无法定位会话，跳过广播",
			zap.String("code", reg.SessionCode),
			zap.Uint("registration_id", reg.ID))
		return
	}

	evt, err := websocket.NewAdmissionDecidedEvent(session.SessionID, reg)
	if err != nil {
		h.log.Warn("构造审批事件失败", zap.Error(err))
		return
	}
	h.hub.Publish(evt)
}
