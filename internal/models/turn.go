package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GameTurn 回合记录表
//
// 一个会话的回合按 (turn_ended_at, created_at, id) 构成全序。
// 回合提交后只会被回溯操作修改一次（置为作废），永不删除。
type GameTurn struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string `gorm:"index;size:64;not null" json:"session_id"`
	PlayerName string `gorm:"size:100;not null" json:"player_name"`

	// 游戏进度载荷（仅存储，不解释）
	Location        string    `gorm:"size:100" json:"location"`
	Money           int64     `gorm:"default:0" json:"money"`
	BadgeCount      int       `gorm:"default:0" json:"badge_count"`
	PlaytimeSeconds int64     `gorm:"default:0" json:"playtime_seconds"`
	PartyData       JSONArray `gorm:"type:json" json:"party_data"`

	TurnDuration int    `gorm:"default:0" json:"turn_duration"` // 秒，仅参考
	Message      string `gorm:"size:500" json:"message"`

	TurnEndedAt  time.Time `gorm:"index;not null" json:"turn_ended_at"`
	SaveStateKey string    `gorm:"size:64" json:"save_state_key"`

	InvalidatedAt                *time.Time `json:"invalidated_at,omitempty"`
	InvalidatedByRestoreToTurnID *string    `gorm:"size:36;index" json:"invalidated_by_restore_to_turn_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (GameTurn) TableName() string {
	return "game_turns"
}

// BeforeCreate 创建前的钩子
func (t *GameTurn) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// IsInvalidated 检查回合是否已作废
func (t *GameTurn) IsInvalidated() bool {
	return t.InvalidatedAt != nil
}

// OrderBefore 按 (turn_ended_at, created_at, id) 全序比较
func (t *GameTurn) OrderBefore(other *GameTurn) bool {
	if !t.TurnEndedAt.Equal(other.TurnEndedAt) {
		return t.TurnEndedAt.Before(other.TurnEndedAt)
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID < other.ID
}

// GameStateSnapshot 回合内遥测快照表
//
// 快照写入后不可变，也不随回合作废而失效。
type GameStateSnapshot struct {
	ID             string `gorm:"primaryKey;size:36" json:"id"`
	GameTurnID     string `gorm:"uniqueIndex:idx_snapshot_turn_seq,priority:1;size:36;not null" json:"game_turn_id"`
	SessionID      string `gorm:"index;size:64" json:"session_id"`
	SequenceNumber int    `gorm:"uniqueIndex:idx_snapshot_turn_seq,priority:2;not null" json:"sequence_number"`
	CapturedAt     time.Time `gorm:"not null" json:"captured_at"`

	// 遥测载荷（仅存储，不解释）
	Location        string    `gorm:"size:100" json:"location"`
	InBattle        bool      `gorm:"default:false" json:"in_battle"`
	Money           int64     `gorm:"default:0" json:"money"`
	BadgeCount      int       `gorm:"default:0" json:"badge_count"`
	PlaytimeSeconds int64     `gorm:"default:0" json:"playtime_seconds"`
	PartyData       JSONArray `gorm:"type:json" json:"party_data"`
	Events          JSONArray `gorm:"type:json" json:"events"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (GameStateSnapshot) TableName() string {
	return "game_state_snapshots"
}

// BeforeCreate 创建前的钩子
func (s *GameStateSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CapturedAt.IsZero() {
		s.CapturedAt = time.Now()
	}
	return nil
}
