package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wfunc/retro-relay/internal/ledsign"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/service"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// LedgerHandler 回合账本处理器
type LedgerHandler struct {
	sessionService  service.SessionService
	ledgerService   service.LedgerService
	snapshotService service.SnapshotService
	hub             *websocket.Hub
	notifier        *ledsign.Notifier
}

// NewLedgerHandler 创建回合账本处理器
func NewLedgerHandler(sessionService service.SessionService, ledgerService service.LedgerService, snapshotService service.SnapshotService, hub *websocket.Hub, notifier *ledsign.Notifier) *LedgerHandler {
	return &LedgerHandler{
		sessionService:  sessionService,
		ledgerService:   ledgerService,
		snapshotService: snapshotService,
		hub:             hub,
		notifier:        notifier,
	}
}

// resolveSession 把路径里的会话口令解析成会话
func (h *LedgerHandler) resolveSession(c *gin.Context) (*models.GameSession, bool) {
	session, err := h.sessionService.ResolveByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return session, true
}

// CommitTurn 提交回合
// @Summary 提交回合
// @Description 存档先落盘再写账本，提交成功后新回合成为会话头
// @Tags Ledger
// @Accept json
// @Produce json
// @Param code path string true "会话口令"
// @Param request body service.CommitTurnRequest true "回合数据，存档为base64"
// @Success 201 {object} models.GameTurn
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/sessions/{code}/turns [post]
func (h *LedgerHandler) CommitTurn(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		return
	}

	var req service.CommitTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.SessionID = session.SessionID

	turn, err := h.ledgerService.CommitTurn(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	if evt, eerr := websocket.NewTurnCommittedEvent(turn); eerr == nil {
		h.hub.Publish(evt)
	}
	h.notifier.TurnCommitted()

	c.JSON(http.StatusCreated, turn)
}

// GetHead 查询会话头
// @Summary 查询会话头
// @Description 返回当前有效时间线上最近一次提交的回合，账本为空时返回404
// @Tags Ledger
// @Produce json
// @Param code path string true "会话口令"
// @Success 200 {object} models.GameTurn
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/sessions/{code}/head [get]
func (h *LedgerHandler) GetHead(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		return
	}

	head, err := h.ledgerService.GetHead(c.Request.Context(), session.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, head)
}

// ListTurns 回合历史
// @Summary 回合历史
// @Description 按结束时间倒序返回回合，默认隐藏已失效的
// @Tags Ledger
// @Produce json
// @Param code path string true "会话口令"
// @Param include_invalidated query bool false "包含已失效回合"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/sessions/{code}/turns [get]
func (h *LedgerHandler) ListTurns(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		return
	}

	includeInvalidated, _ := strconv.ParseBool(c.DefaultQuery("include_invalidated", "false"))
	page, pageSize := pageParams(c)

	turns, total, err := h.ledgerService.ListTurns(c.Request.Context(), session.SessionID, includeInvalidated, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, turns, total, page, pageSize)
}

// GetTurn 回合详情
// @Summary 回合详情
// @Tags Ledger
// @Produce json
// @Param id path string true "回合ID"
// @Success 200 {object} models.GameTurn
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/turns/{id} [get]
func (h *LedgerHandler) GetTurn(c *gin.Context) {
	turn, err := h.ledgerService.GetTurn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, turn)
}

// GetSaveState 下载存档
// @Summary 下载存档
// @Description 返回回合对应的原始存档字节，已失效回合的存档同样可读
// @Tags Ledger
// @Produce octet-stream
// @Param id path string true "回合ID"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/turns/{id}/savestate [get]
func (h *LedgerHandler) GetSaveState(c *gin.Context) {
	data, turn, err := h.ledgerService.GetSaveState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.sav", turn.ID))
	c.Header("X-Save-State-Key", turn.SaveStateKey)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// CaptureSnapshot 上报回合遥测
// @Summary 上报回合遥测
// @Description 给指定回合追加一条遥测快照，序号由服务端递增
// @Tags Snapshot
// @Accept json
// @Produce json
// @Param id path string true "回合ID"
// @Param request body service.CaptureSnapshotRequest true "遥测数据"
// @Success 201 {object} models.GameStateSnapshot
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/turns/{id}/snapshots [post]
func (h *LedgerHandler) CaptureSnapshot(c *gin.Context) {
	var req service.CaptureSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	req.TurnID = c.Param("id")

	snapshot, err := h.snapshotService.Capture(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.SnapshotCaptured()

	c.JSON(http.StatusCreated, snapshot)
}

// CaptureForHead 上报当前回合遥测
// @Summary 上报当前回合遥测
// @Description 把遥测挂到会话头回合上，正在进行的回合用这个接口
// @Tags Snapshot
// @Accept json
// @Produce json
// @Param code path string true "会话口令"
// @Param request body service.Telemetry true "遥测数据"
// @Success 201 {object} models.GameStateSnapshot
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/sessions/{code}/snapshots [post]
func (h *LedgerHandler) CaptureForHead(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		return
	}

	var telemetry service.Telemetry
	if err := c.ShouldBindJSON(&telemetry); err != nil {
		respondBindError(c, err)
		return
	}

	snapshot, err := h.snapshotService.CaptureForHead(c.Request.Context(), session.SessionID, &telemetry)
	if err != nil {
		respondError(c, err)
		return
	}

	h.notifier.SnapshotCaptured()

	c.JSON(http.StatusCreated, snapshot)
}

// ListSnapshots 回合遥测列表
// @Summary 回合遥测列表
// @Description 按序号升序返回指定回合的遥测快照
// @Tags Snapshot
// @Produce json
// @Param id path string true "回合ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} PagedResponse
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/turns/{id}/snapshots [get]
func (h *LedgerHandler) ListSnapshots(c *gin.Context) {
	page, pageSize := pageParams(c)

	snapshots, total, err := h.snapshotService.ListByTurn(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	respondPage(c, snapshots, total, page, pageSize)
}

// GetLatestSnapshot 最近一次遥测
// @Summary 最近一次遥测
// @Description 返回会话内最近采集的遥测快照，供待机画面展示
// @Tags Snapshot
// @Produce json
// @Param code path string true "会话口令"
// @Success 200 {object} models.GameStateSnapshot
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /api/v1/sessions/{code}/snapshots/latest [get]
func (h *LedgerHandler) GetLatestSnapshot(c *gin.Context) {
	session, ok := h.resolveSession(c)
	if !ok {
		return
	}

	snapshot, err := h.snapshotService.GetLatest(c.Request.Context(), session.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
