package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/middleware"
	"github.com/wfunc/retro-relay/internal/service"
)

// OperatorHandler 运营账号处理器
type OperatorHandler struct {
	authService service.AuthService
}

// NewOperatorHandler 创建运营账号处理器
func NewOperatorHandler(authService service.AuthService) *OperatorHandler {
	return &OperatorHandler{
		authService: authService,
	}
}

// refreshRequest 刷新令牌请求
type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// operatorStatusRequest 账号状态变更请求
type operatorStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active disabled"`
}

// Login 运营者登录
// @Summary 运营者登录
// @Description 使用用户名密码登录，返回访问令牌和刷新令牌
// @Tags Operator
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "登录信息"
// @Success 200 {object} service.AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/operator/login [post]
func (h *OperatorHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.IP = c.ClientIP()

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Refresh 刷新令牌
// @Summary 刷新令牌
// @Description 用刷新令牌换取新的令牌对
// @Tags Operator
// @Accept json
// @Produce json
// @Param request body refreshRequest true "刷新令牌"
// @Success 200 {object} service.AuthResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/operator/refresh [post]
func (h *OperatorHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me 当前账号信息
// @Summary 当前账号信息
// @Tags Operator
// @Produce json
// @Success 200 {object} models.Operator
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/me [get]
func (h *OperatorHandler) Me(c *gin.Context) {
	operatorID, ok := middleware.GetOperatorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    apperrors.ErrAuthentication,
			Message: "未登录",
		})
		return
	}

	operator, err := h.authService.GetOperator(c.Request.Context(), operatorID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, operator)
}

// ChangePassword 修改密码
// @Summary 修改密码
// @Tags Operator
// @Accept json
// @Produce json
// @Param request body service.ChangePasswordRequest true "新旧密码"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/password [post]
func (h *OperatorHandler) ChangePassword(c *gin.Context) {
	operatorID, ok := middleware.GetOperatorID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    apperrors.ErrAuthentication,
			Message: "未登录",
		})
		return
	}

	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.authService.ChangePassword(c.Request.Context(), operatorID, &req); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "密码修改成功"})
}

// CreateOperator 创建运营账号
// @Summary 创建运营账号
// @Description 仅管理员可用
// @Tags Operator
// @Accept json
// @Produce json
// @Param request body service.CreateOperatorRequest true "账号信息"
// @Success 201 {object} models.Operator
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/operators [post]
func (h *OperatorHandler) CreateOperator(c *gin.Context) {
	var req service.CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.Creator, _ = middleware.GetOperatorName(c)

	operator, err := h.authService.CreateOperator(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, operator)
}

// ListOperators 运营账号列表
// @Summary 运营账号列表
// @Tags Operator
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Failure 403 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/operators [get]
func (h *OperatorHandler) ListOperators(c *gin.Context) {
	page, pageSize := pageParams(c)

	operators, total, err := h.authService.ListOperators(c.Request.Context(), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, operators, total, page, pageSize)
}

// SetOperatorStatus 启用或停用账号
// @Summary 启用或停用账号
// @Tags Operator
// @Accept json
// @Produce json
// @Param id path int true "账号ID"
// @Param request body operatorStatusRequest true "目标状态"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/operators/{id}/status [post]
func (h *OperatorHandler) SetOperatorStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    apperrors.ErrInvalidParam,
			Message: "账号ID格式错误",
		})
		return
	}

	var req operatorStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := h.authService.SetOperatorStatus(c.Request.Context(), uint(id), req.Status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "账号状态已更新"})
}
