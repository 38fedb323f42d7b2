package ledsign

import (
	"encoding/binary"
	"fmt"
	"time"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9 // 最小帧长度：帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
)

// 命令码定义
const (
	// 灯牌控制指令（Golang→灯牌）
	CmdShowPattern   byte = 0x01 // 切换灯效
	CmdSetBrightness byte = 0x02 // 设置亮度
	CmdClear         byte = 0x03 // 熄灭灯牌

	// 系统指令
	CmdHeartbeat byte = 0x31 // 心跳包
	CmdACK       byte = 0x80 // ACK确认
	CmdNACK      byte = 0x81 // NACK拒绝
)

// 灯效定义
const (
	PatternDark   byte = 0x00 // 全灭
	PatternBreath byte = 0x01 // 呼吸灯（待机）
	PatternScroll byte = 0x02 // 跑马灯（回合进行中）
	PatternFlash  byte = 0x03 // 闪烁（回合提交）
	PatternSweep  byte = 0x04 // 扫描（时间线回溯）
)

// Frame 数据帧结构
type Frame struct {
	Header   byte   // 帧头
	Length   uint16 // 长度
	Command  byte   // 命令码
	Sequence uint16 // 序列号
	Data     []byte // 数据
	CRC16    uint16 // CRC校验
	Tail     byte   // 帧尾
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}

	// 计算长度（整个帧的长度）
	f.Length = uint16(9 + len(data))

	// 计算CRC
	f.CRC16 = f.CalculateCRC()

	return f
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)
	idx := 0

	// 帧头
	buf[idx] = f.Header
	idx++

	// 长度（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Length)
	idx += 2

	// 命令
	buf[idx] = f.Command
	idx++

	// 序列号（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Sequence)
	idx += 2

	// 数据
	if len(f.Data) > 0 {
		copy(buf[idx:], f.Data)
		idx += len(f.Data)
	}

	// CRC16（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	idx += 2

	// 帧尾
	buf[idx] = f.Tail

	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return fmt.Errorf("frame too short: %d < %d", len(data), MinFrameLen)
	}

	// 检查帧头
	if data[0] != FrameHeader {
		return fmt.Errorf("invalid frame header: 0x%02X", data[0])
	}

	// 解析长度
	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])

	// 检查数据长度
	if len(data) < int(f.Length) {
		return fmt.Errorf("incomplete frame: %d < %d", len(data), f.Length)
	}

	// 检查帧尾
	if data[f.Length-1] != FrameTail {
		return fmt.Errorf("invalid frame tail: 0x%02X", data[f.Length-1])
	}

	// 解析字段
	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])

	// 解析数据
	dataLen := f.Length - 9
	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}

	// 解析CRC
	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	// 验证CRC
	calcCRC := f.CalculateCRC()
	if calcCRC != f.CRC16 {
		return fmt.Errorf("CRC mismatch: calc=0x%04X, recv=0x%04X", calcCRC, f.CRC16)
	}

	return nil
}

// CalculateCRC 计算CRC16校验值
func (f *Frame) CalculateCRC() uint16 {
	// 计算从命令码到数据的CRC
	data := make([]byte, 0, 3+len(f.Data))
	data = append(data, f.Command)
	data = append(data, byte(f.Sequence>>8), byte(f.Sequence&0xFF))
	if len(f.Data) > 0 {
		data = append(data, f.Data...)
	}
	return CRC16XMODEM(data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FormatTimestamp 格式化时间戳为4字节
func FormatTimestamp(t time.Time) []byte {
	unix := uint32(t.Unix())
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, unix)
	return buf
}
