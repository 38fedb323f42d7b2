package models

import (
	"time"

	"gorm.io/gorm"
)

// Operator 运营控制台账号表
type Operator struct {
	BaseModel
	Username    string     `gorm:"uniqueIndex;size:50;not null" json:"username"`
	Nickname    string     `gorm:"size:100" json:"nickname"`
	Password    string     `gorm:"size:255;not null" json:"-"` // argon2id编码
	Role        string     `gorm:"size:20;default:'operator'" json:"role"`   // admin, operator
	Status      string     `gorm:"size:20;default:'active'" json:"status"`   // active, disabled
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `gorm:"size:50" json:"last_login_ip"`
}

// TableName 指定表名
func (Operator) TableName() string {
	return "operators"
}

// BeforeCreate 创建前的钩子
func (o *Operator) BeforeCreate(tx *gorm.DB) error {
	if o.Nickname == "" {
		o.Nickname = o.Username
	}
	if o.Status == "" {
		o.Status = "active"
	}
	return nil
}

// CanLogin 检查账号是否可以登录
func (o *Operator) CanLogin() bool {
	return o.Status == "active"
}

// IsAdmin 检查是否为管理员
func (o *Operator) IsAdmin() bool {
	return o.Role == "admin"
}

// UpdateLoginInfo 更新登录信息
func (o *Operator) UpdateLoginInfo(ip string) {
	now := time.Now()
	o.LastLoginAt = &now
	o.LastLoginIP = ip
}
