package service

import (
	"strconv"
	"time"

	"github.com/wfunc/retro-relay/internal/blobstore"
	"github.com/wfunc/retro-relay/internal/config"
	"github.com/wfunc/retro-relay/internal/repository"
	"github.com/wfunc/retro-relay/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config 服务配置
type Config struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CodeAttempts       int
	TxMaxRetries       int
	MaxSaveStateSize   int64
	MaxMessageLength   int
	MaxPartySize       int
	MaxEventCount      int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		JWTSecret:          "change-me-in-production",
		AccessTokenExpiry:  24 * time.Hour,
		RefreshTokenExpiry: 168 * time.Hour,
		CodeAttempts:       10,
		TxMaxRetries:       3,
		MaxSaveStateSize:   4194304,
		MaxMessageLength:   500,
		MaxPartySize:       6,
		MaxEventCount:      64,
	}
}

// FromAppConfig 从全局配置生成服务配置
func FromAppConfig(c *config.Config) *Config {
	if c == nil {
		return DefaultConfig()
	}
	return &Config{
		JWTSecret:          c.Security.JWT.Secret,
		AccessTokenExpiry:  time.Duration(c.Security.JWT.ExpireHours) * time.Hour,
		RefreshTokenExpiry: time.Duration(c.Security.JWT.RefreshHours) * time.Hour,
		CodeAttempts:       c.Relay.Session.CodeAttempts,
		TxMaxRetries:       c.Relay.Ledger.TxMaxRetries,
		MaxSaveStateSize:   c.Relay.Ledger.MaxSaveStateSize,
		MaxMessageLength:   c.Relay.Ledger.MaxMessageLength,
		MaxPartySize:       c.Relay.Snapshot.MaxPartySize,
		MaxEventCount:      c.Relay.Snapshot.MaxEventCount,
	}
}

// Services 服务集合
type Services struct {
	Auth      AuthService
	Session   SessionService
	Admission AdmissionService
	Ledger    LedgerService
	Snapshot  SnapshotService
	Audit     AuditService
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, blobs *blobstore.Store, cfg *Config, log *zap.Logger) *Services {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	manager := repository.NewManager(db)
	jwtManager := utils.NewJWTManager(
		cfg.JWTSecret,
		cfg.AccessTokenExpiry,
		cfg.RefreshTokenExpiry,
	)

	return &Services{
		Auth:      NewAuthService(manager.Operator(), jwtManager, log, time.Now),
		Session:   NewSessionService(manager, cfg.CodeAttempts, log, time.Now),
		Admission: NewAdmissionService(manager, log, time.Now),
		Ledger:    NewLedgerService(manager, blobs, cfg, log, time.Now),
		Snapshot:  NewSnapshotService(manager, cfg, log, time.Now),
		Audit:     NewAuditService(manager, log, time.Now),
	}
}

// formatUint 把数据库主键转成字符串用于日志关联
func formatUint(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
