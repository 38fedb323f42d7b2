package service

import (
	"context"
	"time"

	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/utils"
)

// SessionService 会话注册表服务接口
type SessionService interface {
	// 会话管理
	CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.GameSession, error)
	GetByID(ctx context.Context, sessionID string) (*models.GameSession, error)
	ResolveByCode(ctx context.Context, code string) (*models.GameSession, error)
	ListSessions(ctx context.Context, page, pageSize int) ([]*models.GameSession, int64, error)

	// 运营操作
	Activate(ctx context.Context, sessionID, operator string) (*models.GameSession, error)
	Deactivate(ctx context.Context, sessionID, operator string) (*models.GameSession, error)
	RegenerateCode(ctx context.Context, sessionID, operator string) (*models.GameSession, error)
	Touch(ctx context.Context, sessionID string) error
}

// AdmissionService 终端准入服务接口
type AdmissionService interface {
	Register(ctx context.Context, req *RegisterKioskRequest) (*models.KioskRegistration, error)
	Approve(ctx context.Context, registrationID uint, operator string) (*models.KioskRegistration, error)
	Deny(ctx context.Context, registrationID uint, operator string) (*models.KioskRegistration, error)
	GetRegistration(ctx context.Context, registrationID uint) (*models.KioskRegistration, error)
	// RequireApproved 校验终端已通过准入，供API守卫使用
	RequireApproved(ctx context.Context, registrationID uint) (*models.KioskRegistration, error)
	ListPending(ctx context.Context, sessionCode string) ([]*models.KioskRegistration, error)
	ListByCode(ctx context.Context, sessionCode string, page, pageSize int) ([]*models.KioskRegistration, int64, error)
}

// LedgerService 回合时间线服务接口
type LedgerService interface {
	CommitTurn(ctx context.Context, req *CommitTurnRequest) (*models.GameTurn, error)
	GetHead(ctx context.Context, sessionID string) (*models.GameTurn, error)
	GetTurn(ctx context.Context, turnID string) (*models.GameTurn, error)
	RestoreTo(ctx context.Context, req *RestoreRequest) (*RestoreResult, error)
	ListTurns(ctx context.Context, sessionID string, includeInvalidated bool, page, pageSize int) ([]*models.GameTurn, int64, error)
	// GetSaveState 下载回合存档，返回存档数据与回合本身
	GetSaveState(ctx context.Context, turnID string) ([]byte, *models.GameTurn, error)
}

// SnapshotService 遥测快照服务接口
type SnapshotService interface {
	Capture(ctx context.Context, req *CaptureSnapshotRequest) (*models.GameStateSnapshot, error)
	// CaptureForHead 把遥测挂到会话当前头回合上
	CaptureForHead(ctx context.Context, sessionID string, telemetry *Telemetry) (*models.GameStateSnapshot, error)
	ListByTurn(ctx context.Context, turnID string, page, pageSize int) ([]*models.GameStateSnapshot, int64, error)
	GetLatest(ctx context.Context, sessionID string) (*models.GameStateSnapshot, error)
}

// AuthService 运营账号认证服务接口
type AuthService interface {
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	ChangePassword(ctx context.Context, operatorID uint, req *ChangePasswordRequest) error

	// 账号管理（仅管理员）
	CreateOperator(ctx context.Context, req *CreateOperatorRequest) (*models.Operator, error)
	GetOperator(ctx context.Context, operatorID uint) (*models.Operator, error)
	ListOperators(ctx context.Context, page, pageSize int) ([]*models.Operator, int64, error)
	SetOperatorStatus(ctx context.Context, operatorID uint, status string) error
}

// AuditService 运营操作日志服务接口
type AuditService interface {
	Search(ctx context.Context, q *AuditQuery) ([]*models.OperationLog, int64, error)
	ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]*models.OperationLog, int64, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	SessionID string `json:"session_id" binding:"required,min=2,max=64"`
	Name      string `json:"name" binding:"max=100"`
	Operator  string `json:"-"` // 操作者，由handler从令牌设置
}

// RegisterKioskRequest 终端准入申请
type RegisterKioskRequest struct {
	Code      string `json:"code" binding:"required"`
	KioskName string `json:"kiosk_name" binding:"max=100"`
}

// Telemetry 柜体上报的游戏遥测
//
// 内容只做范围校验不做解读，队伍与事件均为不透明JSON。
type Telemetry struct {
	Location        string           `json:"location"`
	InBattle        bool             `json:"in_battle"`
	Money           int64            `json:"money"`
	BadgeCount      int              `json:"badge_count"`
	PlaytimeSeconds int64            `json:"playtime_seconds"`
	PartyData       models.JSONArray `json:"party_data"`
	Events          models.JSONArray `json:"events"`
	CapturedAt      *time.Time       `json:"captured_at"`
}

// CommitTurnRequest 提交回合请求
type CommitTurnRequest struct {
	SessionID       string           `json:"-"` // 由handler解析会话码后设置
	PlayerName      string           `json:"player_name" binding:"required,max=100"`
	Location        string           `json:"location" binding:"max=100"`
	Money           int64            `json:"money"`
	BadgeCount      int              `json:"badge_count"`
	PlaytimeSeconds int64            `json:"playtime_seconds"`
	PartyData       models.JSONArray `json:"party_data"`
	TurnDuration    int              `json:"turn_duration_seconds"`
	Message         string           `json:"message"`
	SaveState       []byte           `json:"save_state" binding:"required"` // JSON里为base64
}

// RestoreRequest 时间线回溯请求
type RestoreRequest struct {
	SessionID    string `json:"-"`
	TargetTurnID string `json:"target_turn_id" binding:"required"`
	Operator     string `json:"-"`
}

// RestoreResult 回溯结果
type RestoreResult struct {
	Target           *models.GameTurn `json:"target"`
	Head             *models.GameTurn `json:"head"`
	InvalidatedCount int64            `json:"invalidated_count"`
}

// CaptureSnapshotRequest 快照采集请求
type CaptureSnapshotRequest struct {
	TurnID string `json:"-"` // 由handler从路径设置
	Telemetry
}

// LoginRequest 运营登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IP       string `json:"-"` // 客户端IP，由handler设置
}

// AuthResponse 认证响应
type AuthResponse struct {
	Operator     *models.Operator `json:"operator"`
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	ExpiresIn    int64            `json:"expires_in"`
	TokenType    string           `json:"token_type"`
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// CreateOperatorRequest 创建运营账号请求
type CreateOperatorRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname" binding:"max=100"`
	Role     string `json:"role"`
	Creator  string `json:"-"`
}

// AuditQuery 操作日志查询条件
type AuditQuery struct {
	Operator  string     `form:"operator"`
	Action    string     `form:"action"`
	SessionID string     `form:"session_id"`
	StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Page      int        `form:"page"`
	PageSize  int        `form:"page_size"`
}
