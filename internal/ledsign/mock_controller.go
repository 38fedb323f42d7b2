package ledsign

import (
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/retro-relay/internal/logger"
	"go.uber.org/zap"
)

// MockController 模拟灯牌控制器（开发环境与测试用）
type MockController struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	connected bool
	status    ControllerStatus
	shown     []State
}

// NewMockController 创建模拟灯牌控制器
func NewMockController(log *zap.Logger) *MockController {
	if log == nil {
		log = logger.GetLogger()
	}
	return &MockController{
		logger: log,
	}
}

// Connect 模拟连接
func (m *MockController) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.status.Connected = true
	m.logger.Info("模拟灯牌已连接")

	return nil
}

// Disconnect 模拟断开连接
func (m *MockController) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.connected = false
	m.status.Connected = false
	m.logger.Info("模拟灯牌已断开")

	return nil
}

// IsConnected 是否连接
func (m *MockController) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ShowState 模拟切换灯效
func (m *MockController) ShowState(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	m.status.State = state
	m.status.LastCommand = "ShowState:" + state.String()
	m.status.LastCommandAt = time.Now()
	m.shown = append(m.shown, state)

	m.logger.Info("模拟灯牌切换状态", zap.String("state", state.String()))

	return nil
}

// SetBrightness 模拟设置亮度
func (m *MockController) SetBrightness(level byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	if level > 100 {
		level = 100
	}
	m.status.Brightness = level
	m.status.LastCommand = "SetBrightness"
	m.status.LastCommandAt = time.Now()

	m.logger.Info("模拟灯牌设置亮度", zap.Uint8("level", level))

	return nil
}

// Clear 模拟熄灭
func (m *MockController) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	m.status.LastCommand = "Clear"
	m.status.LastCommandAt = time.Now()

	m.logger.Info("模拟灯牌已熄灭")

	return nil
}

// Status 获取控制器状态
func (m *MockController) Status() *ControllerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := m.status
	return &status
}

// ShownStates 返回已展示过的状态序列
func (m *MockController) ShownStates() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]State, len(m.shown))
	copy(states, m.shown)
	return states
}
