package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// GameTurnRepository 回合账本仓储接口
type GameTurnRepository interface {
	BaseRepository
	Create(ctx context.Context, turn *models.GameTurn) error
	FindByID(ctx context.Context, id string) (*models.GameTurn, error)
	FindHead(ctx context.Context, sessionID string) (*models.GameTurn, error)
	ListBySession(ctx context.Context, sessionID string, includeInvalidated bool, p *Pagination) ([]*models.GameTurn, error)
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	CountActiveBySession(ctx context.Context, sessionID string) (int64, error)
	InvalidateAfter(ctx context.Context, target *models.GameTurn, at time.Time) (int64, error)
}

// gameTurnRepo 回合账本仓储实现
type gameTurnRepo struct {
	*BaseRepo
}

// NewGameTurnRepository 创建回合账本仓储
func NewGameTurnRepository(db *gorm.DB) GameTurnRepository {
	return &gameTurnRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 追加回合记录
func (r *gameTurnRepo) Create(ctx context.Context, turn *models.GameTurn) error {
	return r.db.WithContext(ctx).Create(turn).Error
}

// FindByID 根据ID查找回合
func (r *gameTurnRepo) FindByID(ctx context.Context, id string) (*models.GameTurn, error) {
	var turn models.GameTurn
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&turn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrTurnNotFound, "回合不存在").WithDetails(id)
		}
		return nil, err
	}
	return &turn, nil
}

// FindHead 查找会话的头部回合
// 头部为未作废回合中按 (turn_ended_at, created_at, id) 最大的一条。
func (r *gameTurnRepo) FindHead(ctx context.Context, sessionID string) (*models.GameTurn, error) {
	var turn models.GameTurn
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND invalidated_at IS NULL", sessionID).
		Order("turn_ended_at desc, created_at desc, id desc").
		First(&turn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrTurnNotFound, "会话尚无有效回合").WithDetails(sessionID)
		}
		return nil, err
	}
	return &turn, nil
}

// ListBySession 按账本顺序列出会话回合（分页）
func (r *gameTurnRepo) ListBySession(ctx context.Context, sessionID string, includeInvalidated bool, p *Pagination) ([]*models.GameTurn, error) {
	var turns []*models.GameTurn

	query := r.db.WithContext(ctx).
		Model(&models.GameTurn{}).
		Where("session_id = ?", sessionID)
	if !includeInvalidated {
		query = query.Where("invalidated_at IS NULL")
	}

	// 查询总数
	query.Count(&p.Total)

	// 查询数据
	err := query.
		Order("turn_ended_at asc, created_at asc, id asc").
		Scopes(Paginate(p)).
		Find(&turns).Error

	return turns, err
}

// CountBySession 统计会话回合总数（含已作废）
func (r *gameTurnRepo) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GameTurn{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}

// CountActiveBySession 统计会话未作废回合数
func (r *gameTurnRepo) CountActiveBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GameTurn{}).
		Where("session_id = ? AND invalidated_at IS NULL", sessionID).
		Count(&count).Error
	return count, err
}

// InvalidateAfter 作废目标回合之后的全部未作废回合
// 「之后」按 (turn_ended_at, created_at, id) 元组严格大于目标判定，
// 只触达未作废的行，重复执行不会改写首次回溯留下的归因。
func (r *gameTurnRepo) InvalidateAfter(ctx context.Context, target *models.GameTurn, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.GameTurn{}).
		Where("session_id = ? AND invalidated_at IS NULL", target.SessionID).
		Where(
			"turn_ended_at > ? OR (turn_ended_at = ? AND created_at > ?) OR (turn_ended_at = ? AND created_at = ? AND id > ?)",
			target.TurnEndedAt,
			target.TurnEndedAt, target.CreatedAt,
			target.TurnEndedAt, target.CreatedAt, target.ID,
		).
		Updates(map[string]interface{}{
			"invalidated_at":                    at,
			"invalidated_by_restore_to_turn_id": target.ID,
		})

	return result.RowsAffected, result.Error
}

// WithTx 使用事务
func (r *gameTurnRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &gameTurnRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
