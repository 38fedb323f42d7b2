package models

import (
	"time"

	"gorm.io/gorm"
)

// 运营操作类型
const (
	OperationActionRestore        = "restore"
	OperationActionActivate       = "activate"
	OperationActionDeactivate     = "deactivate"
	OperationActionRegenerateCode = "regenerate_code"
	OperationActionApprove        = "approve"
	OperationActionDeny           = "deny"
	OperationActionCreateSession  = "create_session"
)

// OperationLog 运营操作日志表
type OperationLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Operator   string  `gorm:"size:50;index;not null" json:"operator"`
	Action     string  `gorm:"size:50;index;not null" json:"action"`
	EntityType string  `gorm:"size:50" json:"entity_type"` // session, registration, turn
	EntityID   string  `gorm:"size:64;index" json:"entity_id"`
	SessionID  string  `gorm:"size:64;index" json:"session_id"`
	Details    JSONMap `gorm:"type:json" json:"details"`
}

// TableName 指定表名
func (OperationLog) TableName() string {
	return "operation_logs"
}

// BeforeCreate 创建前的钩子
func (l *OperationLog) BeforeCreate(tx *gorm.DB) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	return nil
}
