package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/retro-relay/internal/config"
	"github.com/wfunc/retro-relay/internal/models"
	"go.uber.org/zap"
)

// newTestHub 创建测试Hub，心跳间隔调大避免干扰断言
func newTestHub() *Hub {
	logger, _ := zap.NewDevelopment()
	return NewHub(&config.WebSocketConfig{PingInterval: time.Hour}, logger)
}

// newTestClient 创建不带底层连接的测试客户端
func newTestClient(hub *Hub, sessionID string, buffer int) *Client {
	return &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		KioskName: "测试机台",
		Hub:       hub,
		Send:      make(chan []byte, buffer),
	}
}

// drainEvent 从发送缓冲读取一个事件
func drainEvent(t *testing.T, client *Client) *Event {
	t.Helper()

	select {
	case data := <-client.Send:
		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("解析事件失败: %v", err)
		}
		return &event
	case <-time.After(2 * time.Second):
		t.Fatal("等待事件超时")
		return nil
	}
}

// assertNoEvent 断言发送缓冲为空
func assertNoEvent(t *testing.T, client *Client) {
	t.Helper()

	select {
	case data := <-client.Send:
		t.Fatalf("不应收到事件: %s", string(data))
	default:
	}
}

func TestNewHubDefaults(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	hub := NewHub(nil, logger)
	if hub.pingInterval != 30*time.Second {
		t.Errorf("默认心跳间隔不匹配，期望30s，实际%v", hub.pingInterval)
	}
	if hub.pongTimeout != 60*time.Second {
		t.Errorf("默认pong超时不匹配，期望60s，实际%v", hub.pongTimeout)
	}
	if hub.writeTimeout != 10*time.Second {
		t.Errorf("默认写超时不匹配，期望10s，实际%v", hub.writeTimeout)
	}
	if hub.maxMessageSize != 8192 {
		t.Errorf("默认消息大小不匹配，期望8192，实际%d", hub.maxMessageSize)
	}

	custom := NewHub(&config.WebSocketConfig{
		PingInterval:   5 * time.Second,
		PongTimeout:    12 * time.Second,
		WriteTimeout:   3 * time.Second,
		MaxMessageSize: 1024,
	}, logger)
	if custom.pingInterval != 5*time.Second {
		t.Errorf("配置心跳间隔未生效，实际%v", custom.pingInterval)
	}
	if custom.pongTimeout != 12*time.Second {
		t.Errorf("配置pong超时未生效，实际%v", custom.pongTimeout)
	}
	if custom.maxMessageSize != 1024 {
		t.Errorf("配置消息大小未生效，实际%d", custom.maxMessageSize)
	}
}

func TestRegisterClientSendsConnected(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "ruby-relay", 8)

	hub.registerClient(client)

	if hub.OnlineCount() != 1 {
		t.Errorf("在线数不匹配，期望1，实际%d", hub.OnlineCount())
	}
	if hub.SessionClientCount("ruby-relay") != 1 {
		t.Errorf("会话订阅数不匹配，期望1，实际%d", hub.SessionClientCount("ruby-relay"))
	}

	event := drainEvent(t, client)
	if event.Type != EventTypeConnected {
		t.Errorf("事件类型不匹配，期望%s，实际%s", EventTypeConnected, event.Type)
	}
	if event.SessionID != "ruby-relay" {
		t.Errorf("会话ID不匹配，实际%s", event.SessionID)
	}

	var payload map[string]string
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		t.Fatalf("解析载荷失败: %v", err)
	}
	if payload["client_id"] != client.ID {
		t.Errorf("client_id不匹配，期望%s，实际%s", client.ID, payload["client_id"])
	}
}

func TestBroadcastSessionIsolation(t *testing.T) {
	hub := newTestHub()
	ruby1 := newTestClient(hub, "ruby-relay", 8)
	ruby2 := newTestClient(hub, "ruby-relay", 8)
	sapphire := newTestClient(hub, "sapphire-relay", 8)

	hub.registerClient(ruby1)
	hub.registerClient(ruby2)
	hub.registerClient(sapphire)
	drainEvent(t, ruby1)
	drainEvent(t, ruby2)
	drainEvent(t, sapphire)

	turn := &models.GameTurn{
		ID:           uuid.New().String(),
		SessionID:    "ruby-relay",
		PlayerName:   "小智",
		BadgeCount:   3,
		Money:        12800,
		TurnEndedAt:  time.Now(),
		SaveStateKey: "abc123",
	}
	event, err := NewTurnCommittedEvent(turn)
	if err != nil {
		t.Fatalf("构造事件失败: %v", err)
	}
	hub.broadcastEvent(event)

	for _, client := range []*Client{ruby1, ruby2} {
		got := drainEvent(t, client)
		if got.Type != EventTypeTurnCommitted {
			t.Errorf("事件类型不匹配，期望%s，实际%s", EventTypeTurnCommitted, got.Type)
		}

		var payload TurnCommittedPayload
		if err := json.Unmarshal(got.Data, &payload); err != nil {
			t.Fatalf("解析载荷失败: %v", err)
		}
		if payload.TurnID != turn.ID {
			t.Errorf("回合ID不匹配，期望%s，实际%s", turn.ID, payload.TurnID)
		}
		if payload.PlayerName != "小智" {
			t.Errorf("玩家名不匹配，实际%s", payload.PlayerName)
		}
		if payload.Money != 12800 {
			t.Errorf("金钱不匹配，实际%d", payload.Money)
		}
	}

	// 其他会话的客户端不应收到
	assertNoEvent(t, sapphire)
}

func TestBroadcastWithoutSessionReachesAll(t *testing.T) {
	hub := newTestHub()
	ruby := newTestClient(hub, "ruby-relay", 8)
	sapphire := newTestClient(hub, "sapphire-relay", 8)

	hub.registerClient(ruby)
	hub.registerClient(sapphire)
	drainEvent(t, ruby)
	drainEvent(t, sapphire)

	hub.broadcastEvent(&Event{Type: EventTypePing, Timestamp: time.Now().Unix()})

	for _, client := range []*Client{ruby, sapphire} {
		got := drainEvent(t, client)
		if got.Type != EventTypePing {
			t.Errorf("事件类型不匹配，期望%s，实际%s", EventTypePing, got.Type)
		}
	}
}

func TestUnregisterClient(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "ruby-relay", 8)

	hub.registerClient(client)
	drainEvent(t, client)

	hub.unregisterClient(client)

	if hub.OnlineCount() != 0 {
		t.Errorf("在线数不匹配，期望0，实际%d", hub.OnlineCount())
	}
	if hub.SessionClientCount("ruby-relay") != 0 {
		t.Errorf("会话订阅数不匹配，期望0，实际%d", hub.SessionClientCount("ruby-relay"))
	}

	// 发送通道应已关闭
	if _, ok := <-client.Send; ok {
		t.Error("发送通道应已关闭")
	}

	// 重复注销不应panic
	hub.unregisterClient(client)
}

func TestDeliverDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "ruby-relay", 1)

	// 注册后connected事件占满缓冲
	hub.registerClient(client)

	event, err := NewSessionStateEvent("ruby-relay", false)
	if err != nil {
		t.Fatalf("构造事件失败: %v", err)
	}
	hub.broadcastEvent(event)

	got := drainEvent(t, client)
	if got.Type != EventTypeConnected {
		t.Errorf("事件类型不匹配，期望%s，实际%s", EventTypeConnected, got.Type)
	}

	// 缓冲满时事件被丢弃
	assertNoEvent(t, client)

	// 缓冲腾出后继续投递
	hub.broadcastEvent(event)
	got = drainEvent(t, client)
	if got.Type != EventTypeSessionState {
		t.Errorf("事件类型不匹配，期望%s，实际%s", EventTypeSessionState, got.Type)
	}

	var payload SessionStatePayload
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatalf("解析载荷失败: %v", err)
	}
	if payload.IsActive {
		t.Error("is_active应为false")
	}
}

func TestDeliverSkipsUnknownClient(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "ruby-relay", 8)

	// 未注册的客户端不应收到任何投递
	hub.deliver(client, []byte(`{"type":"ping"}`))
	assertNoEvent(t, client)
}

func TestSendToClient(t *testing.T) {
	hub := newTestHub()
	client := newTestClient(hub, "ruby-relay", 1)

	hub.registerClient(client)
	drainEvent(t, client)

	event, err := NewSessionStateEvent("ruby-relay", true)
	if err != nil {
		t.Fatalf("构造事件失败: %v", err)
	}

	if err := hub.SendToClient(client.ID, event); err != nil {
		t.Errorf("定向发送失败: %v", err)
	}

	// 缓冲已满
	if err := hub.SendToClient(client.ID, event); !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("期望%v，实际%v", ErrSendBufferFull, err)
	}

	// 未注册的客户端
	if err := hub.SendToClient("missing", event); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("期望%v，实际%v", ErrClientNotFound, err)
	}
}

// readEventOfType 从连接读取消息直到出现指定类型的事件
func readEventOfType(t *testing.T, conn *websocket.Conn, eventType string) *Event {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("读取事件失败: %v", err)
		}

		// 写入端可能把多个事件按行合并发送
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				t.Fatalf("解析事件失败: %v", err)
			}
			if event.Type == eventType {
				return &event
			}
		}
	}

	t.Fatalf("未等到事件: %s", eventType)
	return nil
}

func TestHubEndToEnd(t *testing.T) {
	hub := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		client := NewClient(hub, conn, "ruby-relay", "1号机")
		hub.Register(client)
		go client.WritePump()
		client.ReadPump()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接测试服务器失败: %v", err)
	}
	defer conn.Close()

	// 连接建立后先收到connected事件
	readEventOfType(t, conn, EventTypeConnected)

	// 通过Hub发布的会话事件应到达客户端
	turn := &models.GameTurn{
		ID:          uuid.New().String(),
		SessionID:   "ruby-relay",
		PlayerName:  "小茂",
		Money:       5000,
		TurnEndedAt: time.Now(),
	}
	event, err := NewTurnCommittedEvent(turn)
	if err != nil {
		t.Fatalf("构造事件失败: %v", err)
	}
	hub.Publish(event)

	got := readEventOfType(t, conn, EventTypeTurnCommitted)
	var payload TurnCommittedPayload
	if err := json.Unmarshal(got.Data, &payload); err != nil {
		t.Fatalf("解析载荷失败: %v", err)
	}
	if payload.TurnID != turn.ID {
		t.Errorf("回合ID不匹配，期望%s，实际%s", turn.ID, payload.TurnID)
	}

	// pong之外的客户端消息导致断开
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hijack"}`)); err != nil {
		t.Fatalf("发送消息失败: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	// 客户端断开后Hub应清理连接
	for i := 0; i < 50; i++ {
		if hub.OnlineCount() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if hub.OnlineCount() != 0 {
		t.Errorf("在线数不匹配，期望0，实际%d", hub.OnlineCount())
	}
}

func TestHubHeartbeat(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	hub := NewHub(&config.WebSocketConfig{PingInterval: 50 * time.Millisecond}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		client := NewClient(hub, conn, "", "")
		hub.Register(client)
		go client.WritePump()
		client.ReadPump()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接测试服务器失败: %v", err)
	}
	defer conn.Close()

	// 心跳事件面向所有客户端广播
	readEventOfType(t, conn, EventTypePing)
}
