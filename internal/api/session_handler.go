package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/retro-relay/internal/ledsign"
	"github.com/wfunc/retro-relay/internal/middleware"
	"github.com/wfunc/retro-relay/internal/service"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// SessionHandler 会话管理处理器
type SessionHandler struct {
	sessionService service.SessionService
	ledgerService  service.LedgerService
	hub            *websocket.Hub
	notifier       *ledsign.Notifier
	log            *zap.Logger
}

// NewSessionHandler 创建会话管理处理器
func NewSessionHandler(sessionService service.SessionService, ledgerService service.LedgerService, hub *websocket.Hub, notifier *ledsign.Notifier, log *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		ledgerService:  ledgerService,
		hub:            hub,
		notifier:       notifier,
		log:            log,
	}
}

// Create 创建会话
// @Summary 创建会话
// @Description 创建新的接力会话并分配6位数字口令
// @Tags Session
// @Accept json
// @Produce json
// @Param request body service.CreateSessionRequest true "会话信息"
// @Success 201 {object} models.GameSession
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.Operator, _ = middleware.GetOperatorName(c)

	session, err := h.sessionService.CreateSession(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

// List 会话列表
// @Summary 会话列表
// @Description 按最近活动时间倒序返回会话
// @Tags Session
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	page, pageSize := pageParams(c)

	sessions, total, err := h.sessionService.ListSessions(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, sessions, total, page, pageSize)
}

// Get 会话详情
// @Summary 会话详情
// @Tags Session
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} models.GameSession
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessionService.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Activate 激活会话
// @Summary 激活会话
// @Description 激活后终端才能注册和提交回合
// @Tags Session
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} models.GameSession
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id}/activate [post]
func (h *SessionHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate 停用会话
// @Summary 停用会话
// @Tags Session
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} models.GameSession
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id}/deactivate [post]
func (h *SessionHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

// setActive 切换会话状态并广播变更
func (h *SessionHandler) setActive(c *gin.Context, active bool) {
	sessionID := c.Param("id")
	operator, _ := middleware.GetOperatorName(c)

	toggle := h.sessionService.Deactivate
	if active {
		toggle = h.sessionService.Activate
	}

	session, err := toggle(c.Request.Context(), sessionID, operator)
	if err != nil {
		respondError(c, err)
		return
	}

	h.publishSessionState(session.SessionID, session.IsActive)
	c.JSON(http.StatusOK, session)
}

// RegenerateCode 更换会话口令
// @Summary 更换会话口令
// @Description 旧口令立即失效，已准入的终端不受影响
// @Tags Session
// @Produce json
// @Param id path string true "会话ID"
// @Success 200 {object} models.GameSession
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id}/regenerate-code [post]
func (h *SessionHandler) RegenerateCode(c *gin.Context) {
	operator, _ := middleware.GetOperatorName(c)

	session, err := h.sessionService.RegenerateCode(c.Request.Context(), c.Param("id"), operator)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Restore 回退时间线
// @Summary 回退时间线
// @Description 把会话头指针回退到指定回合，其后的回合全部标记为失效
// @Tags Session
// @Accept json
// @Produce json
// @Param id path string true "会话ID"
// @Param request body service.RestoreRequest true "目标回合"
// @Success 200 {object} service.RestoreResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id}/restore [post]
func (h *SessionHandler) Restore(c *gin.Context) {
	var req service.RestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.SessionID = c.Param("id")
	req.Operator, _ = middleware.GetOperatorName(c)

	result, err := h.ledgerService.RestoreTo(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	if evt, eerr := websocket.NewTimelineRestoredEvent(req.SessionID, result.Target, result.InvalidatedCount, req.Operator); eerr == nil {
		h.hub.Publish(evt)
	}
	h.notifier.TimelineRestored()

	c.JSON(http.StatusOK, result)
}

// publishSessionState 广播会话激活状态变更
func (h *SessionHandler) publishSessionState(sessionID string, isActive bool) {
	evt, err := websocket.NewSessionStateEvent(sessionID, isActive)
	if err != nil {
		h.log.Warn("构造会话状态事件失败", zap.Error(err))
		return
	}
	h.hub.Publish(evt)
}
