package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
)

// 序号撞索引后的重试次数
const sequenceAttempts = 3

// snapshotService 遥测快照服务实现
type snapshotService struct {
	manager       *repository.Manager
	helper        *repository.TransactionHelper
	txMaxRetries  int
	maxPartySize  int
	maxEventCount int
	log           *zap.Logger
	now           func() time.Time
}

// NewSnapshotService 创建快照服务
func NewSnapshotService(manager *repository.Manager, cfg *Config, log *zap.Logger, now func() time.Time) SnapshotService {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &snapshotService{
		manager:       manager,
		helper:        repository.NewTransactionHelper(manager.Transaction()),
		txMaxRetries:  cfg.TxMaxRetries,
		maxPartySize:  cfg.MaxPartySize,
		maxEventCount: cfg.MaxEventCount,
		log:           log,
		now:           now,
	}
}

// Capture 为指定回合采集快照
//
// 序号在回合内严格递增，从1开始。回合已被作废不影响采集，
// 快照一经写入不可变更也不会被回溯作废。
func (s *snapshotService) Capture(ctx context.Context, req *CaptureSnapshotRequest) (*models.GameStateSnapshot, error) {
	if req == nil || req.TurnID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "缺少回合ID")
	}
	if err := s.validateTelemetry(&req.Telemetry); err != nil {
		return nil, err
	}

	return s.capture(ctx, &req.Telemetry, func(tx *repository.Transaction) (*models.GameTurn, error) {
		return tx.GameTurn().FindByID(ctx, req.TurnID)
	})
}

// CaptureForHead 把遥测挂到会话当前头回合上
//
// 头回合在事务内解析，与采集原子完成。
func (s *snapshotService) CaptureForHead(ctx context.Context, sessionID string, telemetry *Telemetry) (*models.GameStateSnapshot, error) {
	if sessionID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "缺少会话ID")
	}
	if err := s.validateTelemetry(telemetry); err != nil {
		return nil, err
	}

	return s.capture(ctx, telemetry, func(tx *repository.Transaction) (*models.GameTurn, error) {
		return tx.GameTurn().FindHead(ctx, sessionID)
	})
}

// capture 采集快照的公共路径
//
// 会话行锁串行化同会话的序号分配；SQLite上锁子句被忽略，
// 并发撞 (回合, 序号) 唯一索引时在限定次数内重新分配。
func (s *snapshotService) capture(
	ctx context.Context,
	telemetry *Telemetry,
	resolveTurn func(tx *repository.Transaction) (*models.GameTurn, error),
) (*models.GameStateSnapshot, error) {
	var snapshot *models.GameStateSnapshot
	var err error

	for attempt := 0; attempt < sequenceAttempts; attempt++ {
		snapshot = nil
		err = s.helper.RunWithRetry(ctx, s.txMaxRetries, func(tx *repository.Transaction) error {
			turn, err := resolveTurn(tx)
			if err != nil {
				return err
			}
			if _, err := tx.GameSession().LockForUpdate(ctx, turn.SessionID); err != nil {
				return err
			}

			seq, err := tx.Snapshot().NextSequence(ctx, turn.ID)
			if err != nil {
				return err
			}

			capturedAt := s.now()
			if telemetry.CapturedAt != nil && !telemetry.CapturedAt.IsZero() {
				capturedAt = *telemetry.CapturedAt
			}

			snapshot = &models.GameStateSnapshot{
				GameTurnID:      turn.ID,
				SessionID:       turn.SessionID,
				SequenceNumber:  seq,
				CapturedAt:      capturedAt,
				Location:        telemetry.Location,
				InBattle:        telemetry.InBattle,
				Money:           telemetry.Money,
				BadgeCount:      telemetry.BadgeCount,
				PlaytimeSeconds: telemetry.PlaytimeSeconds,
				PartyData:       telemetry.PartyData,
				Events:          telemetry.Events,
			}
			return tx.Snapshot().Create(ctx, snapshot)
		})
		if err == nil {
			break
		}
		if !repository.IsDuplicateKeyError(err) {
			break
		}
		// 序号被并发占用，整体重来
	}
	if err != nil {
		if repository.IsDuplicateKeyError(err) {
			return nil, apperrors.New(apperrors.ErrConcurrentModification, "快照序号分配冲突")
		}
		return nil, s.mapError(err)
	}

	logger.LogTurnEvent("snapshot_captured", snapshot.SessionID, snapshot.GameTurnID, map[string]interface{}{
		"sequence": snapshot.SequenceNumber,
	})

	return snapshot, nil
}

// ListByTurn 按序号列出回合快照
func (s *snapshotService) ListByTurn(ctx context.Context, turnID string, page, pageSize int) ([]*models.GameStateSnapshot, int64, error) {
	if _, err := s.manager.GameTurn().FindByID(ctx, turnID); err != nil {
		return nil, 0, err
	}

	p := repository.NewPagination(page, pageSize)
	snapshots, err := s.manager.Snapshot().ListByTurn(ctx, turnID, p)
	if err != nil {
		s.log.Error("查询快照列表失败", zap.Error(err), zap.String("turnID", turnID))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return snapshots, p.Total, nil
}

// GetLatest 查询会话最近一条快照
func (s *snapshotService) GetLatest(ctx context.Context, sessionID string) (*models.GameStateSnapshot, error) {
	return s.manager.Snapshot().Latest(ctx, sessionID)
}

// validateTelemetry 校验遥测内容的范围与规模
func (s *snapshotService) validateTelemetry(telemetry *Telemetry) error {
	if telemetry == nil {
		return apperrors.New(apperrors.ErrInvalidParam, "缺少遥测数据")
	}
	if telemetry.Money < 0 || telemetry.BadgeCount < 0 || telemetry.PlaytimeSeconds < 0 {
		return apperrors.New(apperrors.ErrInvalidParam, "数值字段不能为负")
	}
	if len(telemetry.Location) > 100 {
		return apperrors.New(apperrors.ErrInvalidParam, "位置名称过长")
	}
	if s.maxPartySize > 0 && len(telemetry.PartyData) > s.maxPartySize {
		return apperrors.Newf(apperrors.ErrInvalidParam, "队伍成员超过%d上限", s.maxPartySize)
	}
	if s.maxEventCount > 0 && len(telemetry.Events) > s.maxEventCount {
		return apperrors.Newf(apperrors.ErrInvalidParam, "事件数量超过%d上限", s.maxEventCount)
	}
	return nil
}

// mapError 把事务层错误翻译成服务错误
func (s *snapshotService) mapError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if repository.IsRetryableError(err) {
		return apperrors.Wrap(err, apperrors.ErrConcurrentModification)
	}
	s.log.Error("快照采集事务失败", zap.Error(err))
	return apperrors.Wrap(err, apperrors.ErrTransaction)
}
