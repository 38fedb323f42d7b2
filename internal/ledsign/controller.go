package ledsign

import (
	"encoding/json"
	"time"
)

// State 灯牌展示状态
type State int

const (
	StateIdle       State = iota // 待机
	StateTurnActive              // 回合进行中（近期有快照上报）
	StateCommitted               // 回合提交
	StateRestore                 // 时间线回溯
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTurnActive:
		return "TURN_ACTIVE"
	case StateCommitted:
		return "COMMITTED"
	case StateRestore:
		return "RESTORE"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON 序列化为状态名
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// pattern 状态对应的灯效字节
func (s State) pattern() byte {
	switch s {
	case StateTurnActive:
		return PatternScroll
	case StateCommitted:
		return PatternFlash
	case StateRestore:
		return PatternSweep
	default:
		return PatternBreath
	}
}

// ControllerStatus 控制器状态
type ControllerStatus struct {
	Connected     bool      `json:"connected"`
	State         State     `json:"state"`
	Brightness    byte      `json:"brightness"`
	LastCommand   string    `json:"last_command"`
	LastCommandAt time.Time `json:"last_command_at"`
	ErrorCount    int       `json:"error_count"`
}

// Controller 灯牌控制器接口
type Controller interface {
	// 连接管理
	Connect() error
	Disconnect() error
	IsConnected() bool

	// 灯效控制
	ShowState(state State) error
	SetBrightness(level byte) error
	Clear() error

	// 状态查询
	Status() *ControllerStatus
}
