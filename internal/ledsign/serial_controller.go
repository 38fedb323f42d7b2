package ledsign

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/retro-relay/internal/config"
	"github.com/wfunc/retro-relay/internal/logger"
	"go.uber.org/zap"
)

// SerialController 串口灯牌控制器
type SerialController struct {
	cfg       *config.LedConfig
	port      *serial.Port
	connected bool
	seq       uint16
	status    ControllerStatus
	stopChan  chan struct{}
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewSerialController 创建串口灯牌控制器
func NewSerialController(cfg *config.LedConfig, log *zap.Logger) *SerialController {
	if log == nil {
		log = logger.GetLogger()
	}
	return &SerialController{
		cfg:    cfg,
		logger: log,
	}
}

// Connect 连接串口
func (s *SerialController) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	// 解析校验位
	parity := serial.ParityNone
	switch s.cfg.Parity {
	case "O", "odd":
		parity = serial.ParityOdd
	case "E", "even":
		parity = serial.ParityEven
	}

	// 配置串口
	config := &serial.Config{
		Name:        s.cfg.Port,
		Baud:        s.cfg.BaudRate,
		Size:        byte(s.cfg.DataBits),
		Parity:      parity,
		StopBits:    serial.StopBits(s.cfg.StopBits),
		ReadTimeout: s.cfg.ReadTimeout,
	}

	// 打开串口
	port, err := serial.OpenPort(config)
	if err != nil {
		s.logger.Error("打开灯牌串口失败",
			zap.String("port", s.cfg.Port),
			zap.Error(err))
		return fmt.Errorf("open serial port: %w", err)
	}

	s.port = port
	s.connected = true
	s.status.Connected = true
	s.stopChan = make(chan struct{})

	// 启动心跳
	go s.heartbeatLoop(s.stopChan)

	s.logger.Info("灯牌串口连接成功",
		zap.String("port", s.cfg.Port),
		zap.Int("baud_rate", s.cfg.BaudRate))

	return nil
}

// Disconnect 断开连接
func (s *SerialController) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	// 停止心跳
	close(s.stopChan)

	// 关闭串口
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			s.logger.Error("关闭灯牌串口失败", zap.Error(err))
			return err
		}
	}

	s.connected = false
	s.status.Connected = false
	s.port = nil

	s.logger.Info("灯牌串口已断开")

	return nil
}

// IsConnected 检查连接状态
func (s *SerialController) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ShowState 切换灯牌到指定状态的灯效
func (s *SerialController) ShowState(state State) error {
	if err := s.sendCommand(CmdShowPattern, []byte{state.pattern()}); err != nil {
		return fmt.Errorf("show state %s: %w", state, err)
	}

	s.mu.Lock()
	s.status.State = state
	s.status.LastCommand = "ShowState:" + state.String()
	s.status.LastCommandAt = time.Now()
	s.mu.Unlock()

	s.logger.Debug("灯牌状态已切换", zap.String("state", state.String()))

	return nil
}

// SetBrightness 设置亮度（0-100）
func (s *SerialController) SetBrightness(level byte) error {
	if level > 100 {
		level = 100
	}

	if err := s.sendCommand(CmdSetBrightness, []byte{level}); err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}

	s.mu.Lock()
	s.status.Brightness = level
	s.status.LastCommand = "SetBrightness"
	s.status.LastCommandAt = time.Now()
	s.mu.Unlock()

	return nil
}

// Clear 熄灭灯牌
func (s *SerialController) Clear() error {
	if err := s.sendCommand(CmdClear, nil); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	s.mu.Lock()
	s.status.LastCommand = "Clear"
	s.status.LastCommandAt = time.Now()
	s.mu.Unlock()

	return nil
}

// Status 获取控制器状态
func (s *SerialController) Status() *ControllerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.status
	return &status
}

// nextSeq 分配帧序列号
func (s *SerialController) nextSeq() uint16 {
	s.seq++
	return s.seq
}

// sendCommand 构帧并发送，失败时按配置重试
func (s *SerialController) sendCommand(cmd byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || s.port == nil {
		return errors.New("serial port not connected")
	}

	frame := NewFrame(cmd, s.nextSeq(), data)
	payload := frame.ToBytes()
	desc := fmt.Sprintf("cmd=0x%02X seq=%d len=%d", frame.Command, frame.Sequence, frame.Length)

	retries := s.cfg.RetryTimes
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		_, lastErr = s.port.Write(payload)
		if lastErr == nil {
			logger.LogSerialCommand(desc, "", true)
			return nil
		}
		if i < retries-1 {
			time.Sleep(s.cfg.RetryInterval)
		}
	}

	s.status.ErrorCount++
	logger.LogSerialCommand(desc, lastErr.Error(), false)
	return fmt.Errorf("send command after %d retries: %w", retries, lastErr)
}

// heartbeatLoop 心跳循环
func (s *SerialController) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.IsConnected() {
				continue
			}
			if err := s.sendCommand(CmdHeartbeat, FormatTimestamp(time.Now())); err != nil {
				s.logger.Warn("灯牌心跳发送失败", zap.Error(err))
			}
		}
	}
}
