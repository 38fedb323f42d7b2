package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wfunc/retro-relay/internal/config"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/middleware"
	"github.com/wfunc/retro-relay/internal/service"
	"github.com/wfunc/retro-relay/internal/websocket"
)

// WebSocketHandler 会话事件流处理器
type WebSocketHandler struct {
	sessionService service.SessionService
	hub            *websocket.Hub
	upgrader       gorillaws.Upgrader
	log            *zap.Logger
}

// NewWebSocketHandler 创建事件流处理器
func NewWebSocketHandler(sessionService service.SessionService, hub *websocket.Hub, cfg *config.WebSocketConfig, log *zap.Logger) *WebSocketHandler {
	readBuffer, writeBuffer := 1024, 1024
	compression := false
	if cfg != nil {
		if cfg.ReadBufferSize > 0 {
			readBuffer = cfg.ReadBufferSize
		}
		if cfg.WriteBufferSize > 0 {
			writeBuffer = cfg.WriteBufferSize
		}
		compression = cfg.EnableCompression
	}

	return &WebSocketHandler{
		sessionService: sessionService,
		hub:            hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:    readBuffer,
			WriteBufferSize:   writeBuffer,
			EnableCompression: compression,
			// 机台部署在场馆内网，不做来源校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Handle 建立事件流连接
// @Summary 建立事件流连接
// @Description 升级到WebSocket并订阅指定会话的事件，口令通过code参数传入
// @Tags Kiosk
// @Param code query string true "会话口令"
// @Success 101 {string} string "Switching Protocols"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Security KioskAuth
// @Router /ws [get]
func (h *WebSocketHandler) Handle(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    apperrors.ErrInvalidParam,
			Message: "缺少会话口令",
		})
		return
	}

	session, err := h.sessionService.ResolveByCode(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}

	kioskName, _ := middleware.GetKioskName(c)
	registrationID, _ := middleware.GetRegistrationID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade失败时gorilla已经写了响应
		h.log.Warn("事件流升级失败", zap.Error(err), zap.String("session", session.SessionID))
		return
	}

	client := websocket.NewClient(h.hub, conn, session.SessionID, kioskName)
	h.hub.Register(client)

	// 订阅事件流计入会话活动
	if err := h.sessionService.Touch(c.Request.Context(), session.SessionID); err != nil {
		h.log.Warn("更新会话活动时间失败", zap.Error(err), zap.String("session", session.SessionID))
	}

	go client.WritePump()
	go client.ReadPump()

	h.log.Info("事件流已连接",
		zap.String("client_id", client.ID),
		zap.String("session", session.SessionID),
		zap.String("kiosk", kioskName),
		zap.Uint("registration_id", registrationID))
}
