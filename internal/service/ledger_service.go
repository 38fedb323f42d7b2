package service

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/retro-relay/internal/blobstore"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
)

// ledgerService 回合时间线服务实现
//
// 提交与回溯都在会话粒度的事务里执行：先锁会话行，再改时间线。
// 锁冲突走有限次重试，重试耗尽对外表现为并发修改冲突。
type ledgerService struct {
	manager          *repository.Manager
	helper           *repository.TransactionHelper
	blobs            *blobstore.Store
	txMaxRetries     int
	maxSaveStateSize int64
	maxMessageLength int
	log              *zap.Logger
	now              func() time.Time
}

// NewLedgerService 创建时间线服务
func NewLedgerService(
	manager *repository.Manager,
	blobs *blobstore.Store,
	cfg *Config,
	log *zap.Logger,
	now func() time.Time,
) LedgerService {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &ledgerService{
		manager:          manager,
		helper:           repository.NewTransactionHelper(manager.Transaction()),
		blobs:            blobs,
		txMaxRetries:     cfg.TxMaxRetries,
		maxSaveStateSize: cfg.MaxSaveStateSize,
		maxMessageLength: cfg.MaxMessageLength,
		log:              log,
		now:              now,
	}
}

// CommitTurn 提交回合
//
// 存档先落库再开元数据事务：回合行永远不会指向未持久化的存档。
// 提交只追加，从不读改历史回合。
func (s *ledgerService) CommitTurn(ctx context.Context, req *CommitTurnRequest) (*models.GameTurn, error) {
	if err := s.validateCommit(req); err != nil {
		return nil, err
	}

	// 预检会话状态，避免为注定失败的提交写存档
	session, err := s.manager.GameSession().FindByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if !session.CanCommit() {
		return nil, apperrors.New(apperrors.ErrSessionInactive).WithDetails(session.SessionID)
	}

	key, err := s.blobs.Put(ctx, req.SaveState)
	if err != nil {
		s.log.Error("写入存档失败", zap.Error(err), zap.String("sessionID", req.SessionID))
		return nil, apperrors.Wrap(err, apperrors.ErrBlobWrite)
	}

	var turn *models.GameTurn
	err = s.helper.RunWithRetry(ctx, s.txMaxRetries, func(tx *repository.Transaction) error {
		locked, err := tx.GameSession().LockForUpdate(ctx, req.SessionID)
		if err != nil {
			return err
		}
		// 拿到锁后复核，状态可能在预检之后被停用
		if !locked.CanCommit() {
			return apperrors.New(apperrors.ErrSessionInactive).WithDetails(locked.SessionID)
		}

		now := s.now()
		turn = &models.GameTurn{
			SessionID:       req.SessionID,
			PlayerName:      req.PlayerName,
			Location:        req.Location,
			Money:           req.Money,
			BadgeCount:      req.BadgeCount,
			PlaytimeSeconds: req.PlaytimeSeconds,
			PartyData:       req.PartyData,
			TurnDuration:    req.TurnDuration,
			Message:         req.Message,
			TurnEndedAt:     now,
			SaveStateKey:    key,
		}
		if err := tx.GameTurn().Create(ctx, turn); err != nil {
			return err
		}
		return tx.GameSession().UpdateSaveState(ctx, req.SessionID, key, now)
	})
	if err != nil {
		return nil, s.mapTxError(err, "提交回合")
	}

	logger.LogTurnEvent("turn_committed", turn.SessionID, turn.ID, map[string]interface{}{
		"player":         turn.PlayerName,
		"save_state_key": turn.SaveStateKey,
	})

	return turn, nil
}

// GetHead 查询会话当前头回合
//
// 头回合是未被作废的回合中按 (结束时间, 创建时间, ID) 最大的一个。
func (s *ledgerService) GetHead(ctx context.Context, sessionID string) (*models.GameTurn, error) {
	if _, err := s.manager.GameSession().FindByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.manager.GameTurn().FindHead(ctx, sessionID)
}

// GetTurn 查询回合
func (s *ledgerService) GetTurn(ctx context.Context, turnID string) (*models.GameTurn, error) {
	return s.manager.GameTurn().FindByID(ctx, turnID)
}

// RestoreTo 把时间线回溯到指定回合
//
// 目标之后所有未作废的回合一次性标记作废，作废归因指向目标回合。
// 已作废的回合保持原归因不变（先到先得）。回溯到当前头是无操作。
func (s *ledgerService) RestoreTo(ctx context.Context, req *RestoreRequest) (*RestoreResult, error) {
	if req == nil || req.SessionID == "" || req.TargetTurnID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "缺少会话或目标回合")
	}

	var result *RestoreResult
	err := s.helper.RunWithRetry(ctx, s.txMaxRetries, func(tx *repository.Transaction) error {
		session, err := tx.GameSession().LockForUpdate(ctx, req.SessionID)
		if err != nil {
			return err
		}

		target, err := tx.GameTurn().FindByID(ctx, req.TargetTurnID)
		if err != nil {
			return err
		}
		if target.SessionID != session.SessionID {
			// 跨会话的回合按不存在处理
			return apperrors.New(apperrors.ErrTurnSessionMismatch).WithDetails(req.TargetTurnID)
		}
		if target.IsInvalidated() {
			return apperrors.New(apperrors.ErrRestoreInvalidated).WithDetails(target.ID)
		}

		head, err := tx.GameTurn().FindHead(ctx, session.SessionID)
		if err != nil {
			return err
		}
		if head.ID == target.ID {
			// 回溯到当前头：无操作，不写审计
			result = &RestoreResult{Target: target, Head: target, InvalidatedCount: 0}
			return nil
		}

		now := s.now()
		count, err := tx.GameTurn().InvalidateAfter(ctx, target, now)
		if err != nil {
			return err
		}
		if err := tx.GameSession().UpdateSaveState(ctx, session.SessionID, target.SaveStateKey, now); err != nil {
			return err
		}
		if err := tx.OperationLog().Create(ctx, &models.OperationLog{
			Operator:   req.Operator,
			Action:     models.OperationActionRestore,
			EntityType: "turn",
			EntityID:   target.ID,
			SessionID:  session.SessionID,
			Details: models.JSONMap{
				"invalidated_count": count,
				"previous_head_id":  head.ID,
			},
		}); err != nil {
			return err
		}

		result = &RestoreResult{Target: target, Head: target, InvalidatedCount: count}
		return nil
	})
	if err != nil {
		return nil, s.mapTxError(err, "时间线回溯")
	}

	logger.LogRestoreEvent(req.SessionID, req.TargetTurnID, result.InvalidatedCount, req.Operator)
	return result, nil
}

// ListTurns 按总序列出会话回合
func (s *ledgerService) ListTurns(ctx context.Context, sessionID string, includeInvalidated bool, page, pageSize int) ([]*models.GameTurn, int64, error) {
	if _, err := s.manager.GameSession().FindByID(ctx, sessionID); err != nil {
		return nil, 0, err
	}

	p := repository.NewPagination(page, pageSize)
	turns, err := s.manager.GameTurn().ListBySession(ctx, sessionID, includeInvalidated, p)
	if err != nil {
		s.log.Error("查询回合列表失败", zap.Error(err), zap.String("sessionID", sessionID))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return turns, p.Total, nil
}

// GetSaveState 下载回合存档
func (s *ledgerService) GetSaveState(ctx context.Context, turnID string) ([]byte, *models.GameTurn, error) {
	turn, err := s.manager.GameTurn().FindByID(ctx, turnID)
	if err != nil {
		return nil, nil, err
	}

	data, err := s.blobs.Get(ctx, turn.SaveStateKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil, apperrors.New(apperrors.ErrBlobNotFound).WithDetails(turn.SaveStateKey)
		}
		if errors.Is(err, blobstore.ErrCorrupted) {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrDataIntegrity)
		}
		s.log.Error("读取存档失败", zap.Error(err), zap.String("turnID", turnID))
		return nil, nil, apperrors.Wrap(err, apperrors.ErrBlobRead)
	}

	return data, turn, nil
}

// validateCommit 校验提交请求
func (s *ledgerService) validateCommit(req *CommitTurnRequest) error {
	if req == nil || req.SessionID == "" {
		return apperrors.New(apperrors.ErrInvalidParam, "缺少会话")
	}
	if req.PlayerName == "" || len(req.PlayerName) > 100 {
		return apperrors.New(apperrors.ErrInvalidParam, "玩家名称为空或过长")
	}
	if len(req.SaveState) == 0 {
		return apperrors.New(apperrors.ErrInvalidParam, "缺少存档数据")
	}
	if s.maxSaveStateSize > 0 && int64(len(req.SaveState)) > s.maxSaveStateSize {
		return apperrors.Newf(apperrors.ErrInvalidParam, "存档超过%d字节上限", s.maxSaveStateSize)
	}
	if s.maxMessageLength > 0 && len([]rune(req.Message)) > s.maxMessageLength {
		return apperrors.Newf(apperrors.ErrInvalidParam, "留言超过%d字上限", s.maxMessageLength)
	}
	if req.Money < 0 || req.BadgeCount < 0 || req.PlaytimeSeconds < 0 || req.TurnDuration < 0 {
		return apperrors.New(apperrors.ErrInvalidParam, "数值字段不能为负")
	}
	return nil
}

// mapTxError 把事务层错误翻译成服务错误
func (s *ledgerService) mapTxError(err error, op string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if repository.IsRetryableError(err) {
		// 重试耗尽的锁冲突
		return apperrors.Wrap(err, apperrors.ErrConcurrentModification)
	}
	s.log.Error(op+"事务失败", zap.Error(err))
	return apperrors.Wrap(err, apperrors.ErrTransaction)
}
