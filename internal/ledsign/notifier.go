package ledsign

import (
	"sync"
	"time"

	"github.com/wfunc/retro-relay/internal/config"
	"github.com/wfunc/retro-relay/internal/logger"
	"go.uber.org/zap"
)

// defaultIdleAfter 未配置时的待机回落时间
const defaultIdleAfter = 90 * time.Second

// Notifier 按账本生命周期驱动灯牌
//
// 灯牌只反映接力状态，不展示任何游戏内容。controller为nil时（配置禁用）
// 所有调用都是空操作，API层无需判空。
type Notifier struct {
	controller Controller
	idleAfter  time.Duration
	mu         sync.Mutex
	idleTimer  *time.Timer
	logger     *zap.Logger
}

// NewNotifier 按配置创建灯牌通知器
//
// enabled=false时返回空操作通知器；mock_mode=true时使用模拟控制器。
func NewNotifier(cfg *config.LedConfig, log *zap.Logger) *Notifier {
	if log == nil {
		log = logger.GetLogger()
	}

	if cfg == nil || !cfg.Enabled {
		return &Notifier{logger: log}
	}

	var controller Controller
	if cfg.MockMode {
		controller = NewMockController(log)
	} else {
		controller = NewSerialController(cfg, log)
	}

	idleAfter := cfg.IdleAfter
	if idleAfter <= 0 {
		idleAfter = defaultIdleAfter
	}

	return &Notifier{
		controller: controller,
		idleAfter:  idleAfter,
		logger:     log,
	}
}

// NewNotifierWithController 用指定控制器创建通知器
func NewNotifierWithController(controller Controller, idleAfter time.Duration, log *zap.Logger) *Notifier {
	if log == nil {
		log = logger.GetLogger()
	}
	if idleAfter <= 0 {
		idleAfter = defaultIdleAfter
	}
	return &Notifier{
		controller: controller,
		idleAfter:  idleAfter,
		logger:     log,
	}
}

// Enabled 灯牌是否启用
func (n *Notifier) Enabled() bool {
	return n != nil && n.controller != nil
}

// Start 连接控制器并进入待机灯效
func (n *Notifier) Start() error {
	if !n.Enabled() {
		return nil
	}

	if err := n.controller.Connect(); err != nil {
		return err
	}
	if err := n.controller.ShowState(StateIdle); err != nil {
		n.logger.Warn("灯牌进入待机失败", zap.Error(err))
	}

	return nil
}

// Stop 熄灭灯牌并断开控制器
func (n *Notifier) Stop() error {
	if !n.Enabled() {
		return nil
	}

	n.mu.Lock()
	if n.idleTimer != nil {
		n.idleTimer.Stop()
		n.idleTimer = nil
	}
	n.mu.Unlock()

	if err := n.controller.Clear(); err != nil {
		n.logger.Warn("灯牌熄灭失败", zap.Error(err))
	}
	return n.controller.Disconnect()
}

// SnapshotCaptured 快照上报，灯牌进入回合进行中
func (n *Notifier) SnapshotCaptured() {
	n.setState(StateTurnActive)
}

// TurnCommitted 回合提交，灯牌闪烁
func (n *Notifier) TurnCommitted() {
	n.setState(StateCommitted)
}

// TimelineRestored 时间线回溯，灯牌扫描
func (n *Notifier) TimelineRestored() {
	n.setState(StateRestore)
}

// Status 控制器状态，禁用时返回nil
func (n *Notifier) Status() *ControllerStatus {
	if !n.Enabled() {
		return nil
	}
	return n.controller.Status()
}

// setState 切换灯效并重置待机计时器
//
// 灯牌是纯输出设备，失败只记日志，不影响账本操作。
func (n *Notifier) setState(state State) {
	if !n.Enabled() {
		return
	}

	if err := n.controller.ShowState(state); err != nil {
		n.logger.Warn("灯牌切换状态失败",
			zap.String("state", state.String()),
			zap.Error(err))
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.idleTimer != nil {
		n.idleTimer.Stop()
	}
	n.idleTimer = time.AfterFunc(n.idleAfter, n.fallToIdle)
}

// fallToIdle 无活动超时后回落到待机灯效
func (n *Notifier) fallToIdle() {
	if !n.Enabled() || !n.controller.IsConnected() {
		return
	}

	if err := n.controller.ShowState(StateIdle); err != nil {
		n.logger.Warn("灯牌回落待机失败", zap.Error(err))
	}
}
