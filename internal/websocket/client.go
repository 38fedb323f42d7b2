package websocket

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 错误定义
var (
	ErrClientNotFound = errors.New("客户端未找到")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
	ErrInvalidMessage = errors.New("无效的消息格式")
)

// 发送缓冲区大小
const sendBufferSize = 64

// Client 事件流客户端
//
// 事件流是单向为主的：服务端推事件，客户端只回应心跳。
type Client struct {
	ID        string
	SessionID string
	KioskName string
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, sessionID, kioskName string) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		KioskName: kioskName,
		Hub:       hub,
		Conn:      conn,
		Send:      make(chan []byte, sendBufferSize),
	}
}

// ReadPump 读取客户端消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("事件流读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}
		if err := c.handleMessage(message); err != nil {
			break
		}
	}
}

// WritePump 向客户端写入消息
func (c *Client) WritePump() {
	// ping周期必须短于pong超时
	ticker := time.NewTicker(c.Hub.pongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeTimeout))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 批量发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.writeTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理客户端消息，返回错误时断开连接
func (c *Client) handleMessage(data []byte) error {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.Hub.logger.Warn("解析客户端消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		c.sendError("消息格式错误")
		return ErrInvalidMessage
	}

	switch event.Type {
	case EventTypePong:
		// 客户端响应心跳
		return nil
	default:
		// 事件流不接受其他客户端消息
		c.Hub.logger.Warn("收到不支持的客户端消息",
			zap.String("client_id", c.ID),
			zap.String("type", event.Type))
		c.sendError("不支持的消息类型: " + event.Type)
		return ErrInvalidMessage
	}
}

// sendError 发送错误消息
func (c *Client) sendError(message string) {
	event, err := NewEvent(EventTypeError, "", map[string]string{"error": message})
	if err != nil {
		return
	}
	c.Hub.SendToClient(c.ID, event)
}
