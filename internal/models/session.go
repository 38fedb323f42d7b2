package models

import (
	"time"

	"gorm.io/gorm"
)

// GameSession 共享游戏会话表
type GameSession struct {
	SessionID           string    `gorm:"primaryKey;size:64" json:"session_id"`
	Name                string    `gorm:"size:100" json:"name"`
	Code                string    `gorm:"uniqueIndex;size:6;not null" json:"code"`
	IsActive            bool      `gorm:"default:false" json:"is_active"`
	CurrentSaveStateKey *string   `gorm:"size:64" json:"current_save_state_key,omitempty"`
	LastActivityAt      time.Time `json:"last_activity_at"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName 指定表名
func (GameSession) TableName() string {
	return "game_sessions"
}

// BeforeCreate 创建前的钩子
func (s *GameSession) BeforeCreate(tx *gorm.DB) error {
	if s.Name == "" {
		s.Name = s.SessionID
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = time.Now()
	}
	return nil
}

// CanCommit 检查会话是否可以接收回合提交
func (s *GameSession) CanCommit() bool {
	return s.IsActive
}

// HasSaveState 检查会话是否已有存档
func (s *GameSession) HasSaveState() bool {
	return s.CurrentSaveStateKey != nil && *s.CurrentSaveStateKey != ""
}
