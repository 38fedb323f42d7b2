package models

import (
	"time"
)

// 准入状态
const (
	RegistrationStatusPending  = "pending"
	RegistrationStatusApproved = "approved"
	RegistrationStatusDenied   = "denied"
)

// KioskRegistration 终端准入申请表
//
// pending 只能迁移到 approved 或 denied，之后不再变化。
// 被拒绝的终端重新申请会创建新记录。
type KioskRegistration struct {
	BaseModel
	SessionCode string     `gorm:"index;size:6;not null" json:"session_code"`
	KioskName   string     `gorm:"size:100" json:"kiosk_name"`
	Status      string     `gorm:"size:20;default:'pending';index" json:"status"` // pending, approved, denied
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	DeniedAt    *time.Time `json:"denied_at,omitempty"`
}

// TableName 指定表名
func (KioskRegistration) TableName() string {
	return "kiosk_registrations"
}

// IsPending 是否待处理
func (r *KioskRegistration) IsPending() bool {
	return r.Status == RegistrationStatusPending
}

// IsApproved 是否已通过
func (r *KioskRegistration) IsApproved() bool {
	return r.Status == RegistrationStatusApproved
}

// IsDenied 是否已拒绝
func (r *KioskRegistration) IsDenied() bool {
	return r.Status == RegistrationStatusDenied
}
