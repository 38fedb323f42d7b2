package service

import (
	"context"
	"regexp"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"github.com/wfunc/retro-relay/internal/utils"
	"go.uber.org/zap"
)

var (
	// 会话ID为短横线风格的标识串
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{1,63}$`)
	// 会话码固定6位十进制数字
	sessionCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// sessionService 会话注册表服务实现
type sessionService struct {
	manager      *repository.Manager
	codeAttempts int
	log          *zap.Logger
	now          func() time.Time
}

// NewSessionService 创建会话服务
func NewSessionService(manager *repository.Manager, codeAttempts int, log *zap.Logger, now func() time.Time) SessionService {
	if codeAttempts <= 0 {
		codeAttempts = 10
	}
	if now == nil {
		now = time.Now
	}
	return &sessionService{
		manager:      manager,
		codeAttempts: codeAttempts,
		log:          log,
		now:          now,
	}
}

// CreateSession 创建会话
//
// 新会话默认未激活，激活是独立的运营操作。会话码随机生成，
// 撞码时在限定次数内重新生成。
func (s *sessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*models.GameSession, error) {
	if req == nil || !sessionIDPattern.MatchString(req.SessionID) {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "会话ID格式不正确")
	}
	if len(req.Name) > 100 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "会话名称过长")
	}

	if _, err := s.manager.GameSession().FindByID(ctx, req.SessionID); err == nil {
		return nil, apperrors.New(apperrors.ErrAlreadyExists, "会话ID已存在").WithDetails(req.SessionID)
	} else if !apperrors.Is(err, apperrors.ErrSessionNotFound) {
		return nil, err
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	session := &models.GameSession{
		SessionID: req.SessionID,
		Name:      req.Name,
		Code:      code,
		IsActive:  false,
	}

	auditLog := &models.OperationLog{
		Operator: req.Operator,
		Action:   models.OperationActionCreateSession,
		Details:  models.JSONMap{"name": req.Name},
	}

	// 会话与审计日志在同一事务内落库
	if err := repository.NewBatchOperator(s.manager).CreateSessionWithLog(ctx, session, auditLog); err != nil {
		if repository.IsDuplicateKeyError(err) {
			return nil, apperrors.New(apperrors.ErrAlreadyExists, "会话ID已存在").WithDetails(req.SessionID)
		}
		s.log.Error("创建会话失败", zap.Error(err), zap.String("sessionID", req.SessionID))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	logger.LogSessionEvent("session_created", session.SessionID, map[string]interface{}{
		"code":     session.Code,
		"operator": req.Operator,
	})

	return session, nil
}

// GetByID 根据会话ID查找
func (s *sessionService) GetByID(ctx context.Context, sessionID string) (*models.GameSession, error) {
	return s.manager.GameSession().FindByID(ctx, sessionID)
}

// ResolveByCode 根据会话码解析会话
func (s *sessionService) ResolveByCode(ctx context.Context, code string) (*models.GameSession, error) {
	if !sessionCodePattern.MatchString(code) {
		return nil, apperrors.New(apperrors.ErrCodeInvalid).WithDetails(code)
	}
	return s.manager.GameSession().FindByCode(ctx, code)
}

// ListSessions 按最近活动列出会话
func (s *sessionService) ListSessions(ctx context.Context, page, pageSize int) ([]*models.GameSession, int64, error) {
	p := repository.NewPagination(page, pageSize)
	sessions, err := s.manager.GameSession().List(ctx, p)
	if err != nil {
		s.log.Error("查询会话列表失败", zap.Error(err))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return sessions, p.Total, nil
}

// Activate 激活会话
func (s *sessionService) Activate(ctx context.Context, sessionID, operator string) (*models.GameSession, error) {
	return s.setActive(ctx, sessionID, operator, true)
}

// Deactivate 停用会话
func (s *sessionService) Deactivate(ctx context.Context, sessionID, operator string) (*models.GameSession, error) {
	return s.setActive(ctx, sessionID, operator, false)
}

func (s *sessionService) setActive(ctx context.Context, sessionID, operator string, active bool) (*models.GameSession, error) {
	session, err := s.manager.GameSession().FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	action := models.OperationActionActivate
	if !active {
		action = models.OperationActionDeactivate
	}

	now := s.now()
	err = s.manager.WithTransaction(ctx, func(tx *repository.Transaction) error {
		if err := tx.GameSession().SetActive(ctx, sessionID, active); err != nil {
			return err
		}
		if err := tx.GameSession().Touch(ctx, sessionID, now); err != nil {
			return err
		}
		return tx.OperationLog().Create(ctx, &models.OperationLog{
			Operator:   operator,
			Action:     action,
			EntityType: "session",
			EntityID:   sessionID,
			SessionID:  sessionID,
		})
	})
	if err != nil {
		s.log.Error("切换会话状态失败", zap.Error(err), zap.String("sessionID", sessionID), zap.Bool("active", active))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}

	session.IsActive = active
	session.LastActivityAt = now

	logger.LogSessionEvent(action, sessionID, map[string]interface{}{"operator": operator})
	return session, nil
}

// RegenerateCode 重新生成会话码
//
// 旧码立即失效；已用旧码提交的准入申请不受影响，只是旧码不再能解析。
func (s *sessionService) RegenerateCode(ctx context.Context, sessionID, operator string) (*models.GameSession, error) {
	session, err := s.manager.GameSession().FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return nil, err
	}

	err = s.manager.WithTransaction(ctx, func(tx *repository.Transaction) error {
		if err := tx.GameSession().UpdateCode(ctx, sessionID, code); err != nil {
			return err
		}
		return tx.OperationLog().Create(ctx, &models.OperationLog{
			Operator:   operator,
			Action:     models.OperationActionRegenerateCode,
			EntityType: "session",
			EntityID:   sessionID,
			SessionID:  sessionID,
			Details:    models.JSONMap{"old_code": session.Code, "new_code": code},
		})
	})
	if err != nil {
		if repository.IsDuplicateKeyError(err) {
			// 生成与写入之间被并发占用，按生成失败处理
			return nil, apperrors.New(apperrors.ErrCodeGeneration).WithDetails(code)
		}
		s.log.Error("重新生成会话码失败", zap.Error(err), zap.String("sessionID", sessionID))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}

	session.Code = code

	logger.LogSessionEvent("code_regenerated", sessionID, map[string]interface{}{"operator": operator})
	return session, nil
}

// Touch 记录会话活动时间
func (s *sessionService) Touch(ctx context.Context, sessionID string) error {
	return s.manager.GameSession().Touch(ctx, sessionID, s.now())
}

// generateUniqueCode 生成未被占用的6位会话码
func (s *sessionService) generateUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < s.codeAttempts; i++ {
		code, err := utils.GenerateSessionCode()
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrCodeGeneration)
		}

		exists, err := s.manager.GameSession().CodeExists(ctx, code)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperrors.Newf(apperrors.ErrCodeGeneration, "连续%d次撞码", s.codeAttempts)
}
