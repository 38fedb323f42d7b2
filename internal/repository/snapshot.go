package repository

import (
	"context"
	"errors"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// SnapshotRepository 遥测快照仓储接口
type SnapshotRepository interface {
	BaseRepository
	Create(ctx context.Context, snapshot *models.GameStateSnapshot) error
	FindByID(ctx context.Context, id string) (*models.GameStateSnapshot, error)
	ListByTurn(ctx context.Context, turnID string, p *Pagination) ([]*models.GameStateSnapshot, error)
	ListBySession(ctx context.Context, sessionID string, p *Pagination) ([]*models.GameStateSnapshot, error)
	Latest(ctx context.Context, sessionID string) (*models.GameStateSnapshot, error)
	NextSequence(ctx context.Context, turnID string) (int, error)
	CountByTurn(ctx context.Context, turnID string) (int64, error)
}

// snapshotRepo 遥测快照仓储实现
type snapshotRepo struct {
	*BaseRepo
}

// NewSnapshotRepository 创建遥测快照仓储
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 写入快照
func (r *snapshotRepo) Create(ctx context.Context, snapshot *models.GameStateSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// FindByID 根据ID查找快照
func (r *snapshotRepo) FindByID(ctx context.Context, id string) (*models.GameStateSnapshot, error) {
	var snapshot models.GameStateSnapshot
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSnapshotNotFound, "快照不存在").WithDetails(id)
		}
		return nil, err
	}
	return &snapshot, nil
}

// ListByTurn 按序号列出回合内快照（分页）
func (r *snapshotRepo) ListByTurn(ctx context.Context, turnID string, p *Pagination) ([]*models.GameStateSnapshot, error) {
	var snapshots []*models.GameStateSnapshot

	query := r.db.WithContext(ctx).
		Model(&models.GameStateSnapshot{}).
		Where("game_turn_id = ?", turnID)

	// 查询总数
	query.Count(&p.Total)

	// 查询数据
	err := query.
		Order("sequence_number asc").
		Scopes(Paginate(p)).
		Find(&snapshots).Error

	return snapshots, err
}

// ListBySession 按采集时间列出会话快照（分页，新的在前）
func (r *snapshotRepo) ListBySession(ctx context.Context, sessionID string, p *Pagination) ([]*models.GameStateSnapshot, error) {
	var snapshots []*models.GameStateSnapshot

	query := r.db.WithContext(ctx).
		Model(&models.GameStateSnapshot{}).
		Where("session_id = ?", sessionID)

	// 查询总数
	query.Count(&p.Total)

	// 查询数据
	err := query.
		Order("captured_at desc, sequence_number desc").
		Scopes(Paginate(p)).
		Find(&snapshots).Error

	return snapshots, err
}

// Latest 查找会话最近一条快照
func (r *snapshotRepo) Latest(ctx context.Context, sessionID string) (*models.GameStateSnapshot, error) {
	var snapshot models.GameStateSnapshot
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("captured_at desc, sequence_number desc").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrSnapshotNotFound, "会话尚无快照").WithDetails(sessionID)
		}
		return nil, err
	}
	return &snapshot, nil
}

// NextSequence 计算回合内下一个快照序号（从1开始）
// 并发写同一回合时靠 (game_turn_id, sequence_number) 唯一索引兜底，
// 撞索引的一方由服务层重试。
func (r *snapshotRepo) NextSequence(ctx context.Context, turnID string) (int, error) {
	var next int
	err := r.db.WithContext(ctx).
		Model(&models.GameStateSnapshot{}).
		Where("game_turn_id = ?", turnID).
		Select("COALESCE(MAX(sequence_number), 0) + 1").
		Scan(&next).Error
	if err != nil {
		return 0, err
	}
	if next < 1 {
		next = 1
	}
	return next, nil
}

// CountByTurn 统计回合内快照数
func (r *snapshotRepo) CountByTurn(ctx context.Context, turnID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GameStateSnapshot{}).
		Where("game_turn_id = ?", turnID).
		Count(&count).Error
	return count, err
}

// WithTx 使用事务
func (r *snapshotRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &snapshotRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
