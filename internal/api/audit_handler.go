package api

import (
	"github.com/gin-gonic/gin"

	"github.com/wfunc/retro-relay/internal/service"
)

// AuditHandler 操作审计处理器
type AuditHandler struct {
	auditService service.AuditService
}

// NewAuditHandler 创建操作审计处理器
func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{
		auditService: auditService,
	}
}

// Search 审计日志检索
// @Summary 审计日志检索
// @Description 按操作者、动作、会话和时间范围过滤操作日志
// @Tags Audit
// @Produce json
// @Param operator query string false "操作者"
// @Param action query string false "动作"
// @Param session_id query string false "会话ID"
// @Param start_time query string false "起始时间，RFC3339"
// @Param end_time query string false "截止时间，RFC3339"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/v1/operator/audit [get]
func (h *AuditHandler) Search(c *gin.Context) {
	var q service.AuditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}

	logs, total, err := h.auditService.Search(c.Request.Context(), &q)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, logs, total, q.Page, q.PageSize)
}

// ListBySession 会话操作轨迹
// @Summary 会话操作轨迹
// @Description 按时间倒序返回单个会话的全部操作记录
// @Tags Audit
// @Produce json
// @Param id path string true "会话ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Security BearerAuth
// @Router /api/v1/operator/sessions/{id}/audit [get]
func (h *AuditHandler) ListBySession(c *gin.Context) {
	page, pageSize := pageParams(c)

	logs, total, err := h.auditService.ListBySession(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, logs, total, page, pageSize)
}
