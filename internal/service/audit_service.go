package service

import (
	"context"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
)

// auditService 运营操作日志服务实现
type auditService struct {
	manager *repository.Manager
	log     *zap.Logger
	now     func() time.Time
}

// NewAuditService 创建审计服务
func NewAuditService(manager *repository.Manager, log *zap.Logger, now func() time.Time) AuditService {
	if now == nil {
		now = time.Now
	}
	return &auditService{
		manager: manager,
		log:     log,
		now:     now,
	}
}

// Search 按条件检索操作日志
func (s *auditService) Search(ctx context.Context, q *AuditQuery) ([]*models.OperationLog, int64, error) {
	if q == nil {
		q = &AuditQuery{}
	}
	if q.StartTime != nil && q.EndTime != nil && q.EndTime.Before(*q.StartTime) {
		return nil, 0, apperrors.New(apperrors.ErrInvalidParam, "结束时间早于开始时间")
	}

	p := repository.NewPagination(q.Page, q.PageSize)
	logs, err := s.manager.OperationLog().Search(ctx, &repository.OperationLogQuery{
		Operator:  q.Operator,
		Action:    q.Action,
		SessionID: q.SessionID,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	}, p)
	if err != nil {
		s.log.Error("检索操作日志失败", zap.Error(err))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return logs, p.Total, nil
}

// ListBySession 列出会话相关的操作日志
func (s *auditService) ListBySession(ctx context.Context, sessionID string, page, pageSize int) ([]*models.OperationLog, int64, error) {
	p := repository.NewPagination(page, pageSize)
	logs, err := s.manager.OperationLog().ListBySession(ctx, sessionID, p)
	if err != nil {
		s.log.Error("查询会话操作日志失败", zap.Error(err), zap.String("sessionID", sessionID))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return logs, p.Total, nil
}

// Cleanup 清理超过保留期的操作日志
func (s *auditService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperrors.New(apperrors.ErrInvalidParam, "保留期必须为正")
	}

	before := s.now().Add(-retention)
	deleted, err := repository.NewBatchOperator(s.manager).CleanupOperationLogs(ctx, before)
	if err != nil {
		s.log.Error("清理操作日志失败", zap.Error(err))
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseDelete)
	}

	if deleted > 0 {
		s.log.Info("已清理历史操作日志", zap.Int64("deleted", deleted), zap.Time("before", before))
	}
	return deleted, nil
}
