package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wfunc/retro-relay/internal/config"
	"go.uber.org/zap"
)

// Hub 会话事件广播中心
//
// 客户端按会话分组，事件只送达目标会话的订阅者。
// 慢消费者的消息直接丢弃，不阻塞广播循环。
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 会话ID到订阅客户端的映射
	sessions  map[string]map[*Client]bool
	sessionMu sync.RWMutex

	// 事件广播通道
	broadcast chan *Event

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 连接参数
	pingInterval   time.Duration
	pongTimeout    time.Duration
	writeTimeout   time.Duration
	maxMessageSize int64

	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(cfg *config.WebSocketConfig, logger *zap.Logger) *Hub {
	h := &Hub{
		clients:        make(map[string]*Client),
		sessions:       make(map[string]map[*Client]bool),
		broadcast:      make(chan *Event, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		pingInterval:   30 * time.Second,
		pongTimeout:    60 * time.Second,
		writeTimeout:   10 * time.Second,
		maxMessageSize: 8192,
		logger:         logger,
	}
	if cfg != nil {
		if cfg.PingInterval > 0 {
			h.pingInterval = cfg.PingInterval
		}
		if cfg.PongTimeout > 0 {
			h.pongTimeout = cfg.PongTimeout
		}
		if cfg.WriteTimeout > 0 {
			h.writeTimeout = cfg.WriteTimeout
		}
		if cfg.MaxMessageSize > 0 {
			h.maxMessageSize = cfg.MaxMessageSize
		}
	}
	return h
}

// Run 运行Hub直到context取消
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-ticker.C:
			h.broadcastEvent(&Event{
				Type:      EventTypePing,
				Timestamp: time.Now().Unix(),
			})

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 注册客户端并加入会话分组
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	if client.SessionID != "" {
		h.sessionMu.Lock()
		if h.sessions[client.SessionID] == nil {
			h.sessions[client.SessionID] = make(map[*Client]bool)
		}
		h.sessions[client.SessionID][client] = true
		h.sessionMu.Unlock()
	}

	h.logger.Info("事件流客户端连接",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID),
		zap.String("kiosk", client.KioskName))

	connected, err := NewEvent(EventTypeConnected, client.SessionID, map[string]string{
		"client_id": client.ID,
	})
	if err == nil {
		h.SendToClient(client.ID, connected)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	_, known := h.clients[client.ID]
	if known {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()
	if !known {
		return
	}

	if client.SessionID != "" {
		h.sessionMu.Lock()
		if members := h.sessions[client.SessionID]; members != nil {
			delete(members, client)
			if len(members) == 0 {
				delete(h.sessions, client.SessionID)
			}
		}
		h.sessionMu.Unlock()
	}

	h.logger.Info("事件流客户端断开",
		zap.String("client_id", client.ID),
		zap.String("session_id", client.SessionID))
}

// broadcastEvent 按会话分发事件
//
// 不带会话ID的事件（如心跳）发给所有客户端。
func (h *Hub) broadcastEvent(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.Error(err), zap.String("type", event.Type))
		return
	}

	var targets []*Client
	if event.SessionID == "" {
		h.clientsMu.RLock()
		targets = make([]*Client, 0, len(h.clients))
		for _, client := range h.clients {
			targets = append(targets, client)
		}
		h.clientsMu.RUnlock()
	} else {
		h.sessionMu.RLock()
		targets = make([]*Client, 0, len(h.sessions[event.SessionID]))
		for client := range h.sessions[event.SessionID] {
			targets = append(targets, client)
		}
		h.sessionMu.RUnlock()
	}

	for _, client := range targets {
		h.deliver(client, data)
	}
}

// deliver 投递到客户端发送缓冲，缓冲满则丢弃
//
// 在clientsMu保护下复核客户端仍在池中，避免写入已关闭的通道。
func (h *Hub) deliver(client *Client, data []byte) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	select {
	case client.Send <- data:
	default:
		h.logger.Warn("客户端发送缓冲区满，事件丢弃",
			zap.String("client_id", client.ID),
			zap.String("session_id", client.SessionID))
	}
}

// SendToClient 发送事件给指定客户端
//
// 在clientsMu保护下发送，避免写入已关闭的通道。
func (h *Hub) SendToClient(clientID string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeAll 关闭所有客户端连接
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.sessionMu.Lock()
	h.sessions = make(map[string]map[*Client]bool)
	h.sessionMu.Unlock()

	h.logger.Info("事件流已关闭")
}

// Publish 发布事件，广播队列满时丢弃
func (h *Hub) Publish(event *Event) {
	if event == nil {
		return
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("事件广播队列满，事件丢弃", zap.String("type", event.Type))
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// OnlineCount 当前连接数
func (h *Hub) OnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// SessionClientCount 会话订阅者数量
func (h *Hub) SessionClientCount(sessionID string) int {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	return len(h.sessions[sessionID])
}
