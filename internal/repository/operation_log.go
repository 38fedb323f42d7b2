package repository

import (
	"context"
	"time"

	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// OperationLogQuery 操作日志查询条件
type OperationLogQuery struct {
	Operator  string
	Action    string
	SessionID string
	StartTime *time.Time
	EndTime   *time.Time
}

// OperationLogRepository 运营操作日志仓储接口
type OperationLogRepository interface {
	BaseRepository
	Create(ctx context.Context, log *models.OperationLog) error
	ListBySession(ctx context.Context, sessionID string, p *Pagination) ([]*models.OperationLog, error)
	Search(ctx context.Context, query *OperationLogQuery, p *Pagination) ([]*models.OperationLog, error)
	CleanupOldLogs(ctx context.Context, before time.Time) (int64, error)
}

// operationLogRepo 运营操作日志仓储实现
type operationLogRepo struct {
	*BaseRepo
}

// NewOperationLogRepository 创建运营操作日志仓储
func NewOperationLogRepository(db *gorm.DB) OperationLogRepository {
	return &operationLogRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 写入日志
func (r *operationLogRepo) Create(ctx context.Context, log *models.OperationLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListBySession 列出会话下的操作日志（分页，新的在前）
func (r *operationLogRepo) ListBySession(ctx context.Context, sessionID string, p *Pagination) ([]*models.OperationLog, error) {
	var logs []*models.OperationLog

	query := r.db.WithContext(ctx).
		Model(&models.OperationLog{}).
		Where("session_id = ?", sessionID)

	// 查询总数
	query.Count(&p.Total)

	// 查询数据
	err := query.
		Order("created_at desc, id desc").
		Scopes(Paginate(p)).
		Find(&logs).Error

	return logs, err
}

// Search 组合条件查询日志
func (r *operationLogRepo) Search(ctx context.Context, query *OperationLogQuery, p *Pagination) ([]*models.OperationLog, error) {
	var logs []*models.OperationLog

	db := r.db.WithContext(ctx).Model(&models.OperationLog{})

	if query.Operator != "" {
		db = db.Where("operator = ?", query.Operator)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}

	// 查询总数
	db.Count(&p.Total)

	// 查询数据
	err := db.
		Order("created_at desc, id desc").
		Scopes(Paginate(p)).
		Find(&logs).Error

	return logs, err
}

// CleanupOldLogs 清理历史日志
func (r *operationLogRepo) CleanupOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.OperationLog{})
	return result.RowsAffected, result.Error
}

// WithTx 使用事务
func (r *operationLogRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &operationLogRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
