package ledsign

import (
	"testing"
	"time"

	"github.com/wfunc/retro-relay/internal/config"
	"go.uber.org/zap"
)

// TestNotifierStateSequence 测试账本事件驱动的灯效序列
func TestNotifierStateSequence(t *testing.T) {
	controller := NewMockController(zap.NewNop())
	notifier := NewNotifierWithController(controller, time.Hour, zap.NewNop())

	if err := notifier.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	notifier.SnapshotCaptured()
	notifier.TurnCommitted()
	notifier.TimelineRestored()

	want := []State{StateIdle, StateTurnActive, StateCommitted, StateRestore}
	got := controller.ShownStates()
	if len(got) != len(want) {
		t.Fatalf("展示状态数 = %d, want %d: %v", len(got), len(want), got)
	}
	for i, state := range want {
		if got[i] != state {
			t.Errorf("第%d个状态 = %s, want %s", i, got[i], state)
		}
	}

	if status := notifier.Status(); status == nil || status.State != StateRestore {
		t.Errorf("当前状态应为RESTORE，实际%v", status)
	}

	if err := notifier.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if controller.IsConnected() {
		t.Error("Stop()后控制器应已断开")
	}
}

// TestNotifierIdleFallback 测试无活动后回落待机
func TestNotifierIdleFallback(t *testing.T) {
	controller := NewMockController(zap.NewNop())
	notifier := NewNotifierWithController(controller, 50*time.Millisecond, zap.NewNop())

	if err := notifier.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer notifier.Stop()

	notifier.TurnCommitted()

	// 等待待机计时器触发
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status := notifier.Status(); status.State == StateIdle {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if status := notifier.Status(); status.State != StateIdle {
		t.Errorf("超时后状态应回落IDLE，实际%s", status.State)
	}

	// 新事件再次点亮
	notifier.SnapshotCaptured()
	if status := notifier.Status(); status.State != StateTurnActive {
		t.Errorf("快照事件后状态应为TURN_ACTIVE，实际%s", status.State)
	}
}

// TestNotifierDisabled 测试禁用时的空操作
func TestNotifierDisabled(t *testing.T) {
	notifier := NewNotifier(&config.LedConfig{Enabled: false}, zap.NewNop())

	if notifier.Enabled() {
		t.Error("禁用配置下Enabled()应为false")
	}

	// 所有调用都应安全无害
	if err := notifier.Start(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
	notifier.SnapshotCaptured()
	notifier.TurnCommitted()
	notifier.TimelineRestored()
	if status := notifier.Status(); status != nil {
		t.Errorf("禁用时Status()应为nil，实际%v", status)
	}
	if err := notifier.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

// TestNewNotifierMockMode 测试mock_mode配置装配
func TestNewNotifierMockMode(t *testing.T) {
	notifier := NewNotifier(&config.LedConfig{
		Enabled:   true,
		MockMode:  true,
		IdleAfter: time.Minute,
	}, zap.NewNop())

	if !notifier.Enabled() {
		t.Fatal("启用配置下Enabled()应为true")
	}

	if err := notifier.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer notifier.Stop()

	if status := notifier.Status(); status == nil || !status.Connected {
		t.Errorf("启动后控制器应已连接，实际%v", status)
	}
}

// TestMockControllerGuards 测试未连接时的保护
func TestMockControllerGuards(t *testing.T) {
	controller := NewMockController(zap.NewNop())

	if err := controller.ShowState(StateCommitted); err == nil {
		t.Error("未连接时ShowState应返回错误")
	}
	if err := controller.SetBrightness(50); err == nil {
		t.Error("未连接时SetBrightness应返回错误")
	}
	if err := controller.Clear(); err == nil {
		t.Error("未连接时Clear应返回错误")
	}

	if err := controller.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := controller.Connect(); err == nil {
		t.Error("重复连接应返回错误")
	}

	if err := controller.SetBrightness(255); err != nil {
		t.Fatalf("SetBrightness() error = %v", err)
	}
	if status := controller.Status(); status.Brightness != 100 {
		t.Errorf("亮度应截断到100，实际%d", status.Brightness)
	}
}
