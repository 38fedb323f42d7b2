package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GameSessionRepository 游戏会话仓储接口
type GameSessionRepository interface {
	BaseRepository
	Create(ctx context.Context, session *models.GameSession) error
	FindByID(ctx context.Context, sessionID string) (*models.GameSession, error)
	FindByCode(ctx context.Context, code string) (*models.GameSession, error)
	List(ctx context.Context, p *Pagination) ([]*models.GameSession, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	UpdateCode(ctx context.Context, sessionID string, code string) error
	SetActive(ctx context.Context, sessionID string, active bool) error
	UpdateSaveState(ctx context.Context, sessionID string, key string, at time.Time) error
	Touch(ctx context.Context, sessionID string, at time.Time) error
	LockForUpdate(ctx context.Context, sessionID string) (*models.GameSession, error)
}

// gameSessionRepo 游戏会话仓储实现
type gameSessionRepo struct {
	*BaseRepo
}

// NewGameSessionRepository 创建游戏会话仓储
func NewGameSessionRepository(db *gorm.DB) GameSessionRepository {
	return &gameSessionRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建会话
func (r *gameSessionRepo) Create(ctx context.Context, session *models.GameSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID 根据会话ID查找
func (r *gameSessionRepo) FindByID(ctx context.Context, sessionID string) (*models.GameSession, error) {
	var session models.GameSession
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSessionNotFound, "会话不存在").WithDetails(sessionID)
		}
		return nil, err
	}
	return &session, nil
}

// FindByCode 根据会话码查找
func (r *gameSessionRepo) FindByCode(ctx context.Context, code string) (*models.GameSession, error) {
	var session models.GameSession
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSessionNotFound, "会话码无效")
		}
		return nil, err
	}
	return &session, nil
}

// List 按最近活动时间列出会话（分页）
func (r *gameSessionRepo) List(ctx context.Context, p *Pagination) ([]*models.GameSession, error) {
	var sessions []*models.GameSession

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Order("last_activity_at desc").
		Scopes(Paginate(p)).
		Find(&sessions).Error

	return sessions, err
}

// CodeExists 检查会话码是否已被占用
func (r *gameSessionRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("code = ?", code).
		Count(&count).Error
	return count > 0, err
}

// UpdateCode 更新会话码
func (r *gameSessionRepo) UpdateCode(ctx context.Context, sessionID string, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("session_id = ?", sessionID).
		Update("code", code).Error
}

// SetActive 设置会话激活状态
func (r *gameSessionRepo) SetActive(ctx context.Context, sessionID string, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("session_id = ?", sessionID).
		Update("is_active", active).Error
}

// UpdateSaveState 更新会话当前存档指针并记录活动时间
func (r *gameSessionRepo) UpdateSaveState(ctx context.Context, sessionID string, key string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"current_save_state_key": key,
			"last_activity_at":       at,
		}).Error
}

// Touch 记录会话活动时间
func (r *gameSessionRepo) Touch(ctx context.Context, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.GameSession{}).
		Where("session_id = ?", sessionID).
		Update("last_activity_at", at).Error
}

// LockForUpdate 锁定会话行（悲观锁）
// 同一会话的提交、回溯、快照写入都先取该锁再改时间线。
// SQLite 驱动会忽略 FOR UPDATE，串行化靠库级写锁加重试路径兜底。
func (r *gameSessionRepo) LockForUpdate(ctx context.Context, sessionID string) (*models.GameSession, error) {
	var session models.GameSession
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSessionNotFound, "会话不存在").WithDetails(sessionID)
		}
		return nil, err
	}
	return &session, nil
}

// WithTx 使用事务
func (r *gameSessionRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &gameSessionRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
