package service

import (
	"context"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
)

// admissionService 终端准入服务实现
type admissionService struct {
	manager *repository.Manager
	log     *zap.Logger
	now     func() time.Time
}

// NewAdmissionService 创建准入服务
func NewAdmissionService(manager *repository.Manager, log *zap.Logger, now func() time.Time) AdmissionService {
	if now == nil {
		now = time.Now
	}
	return &admissionService{
		manager: manager,
		log:     log,
		now:     now,
	}
}

// Register 终端申请加入会话
//
// 被拒绝的终端可以重新申请，每次申请都是新的pending记录。
func (s *admissionService) Register(ctx context.Context, req *RegisterKioskRequest) (*models.KioskRegistration, error) {
	if req == nil || !sessionCodePattern.MatchString(req.Code) {
		return nil, apperrors.New(apperrors.ErrCodeInvalid, "会话码必须是6位数字")
	}
	if len(req.KioskName) > 100 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "终端名称过长")
	}

	session, err := s.manager.GameSession().FindByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		return nil, apperrors.New(apperrors.ErrSessionInactive).WithDetails(session.SessionID)
	}

	registration := &models.KioskRegistration{
		SessionCode: req.Code,
		KioskName:   req.KioskName,
		Status:      models.RegistrationStatusPending,
	}
	if err := s.manager.KioskRegistration().Create(ctx, registration); err != nil {
		s.log.Error("创建准入申请失败", zap.Error(err), zap.String("code", req.Code))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	logger.LogKioskEvent("kiosk_registered", registration.ID, req.Code)
	return registration, nil
}

// Approve 批准准入申请
func (s *admissionService) Approve(ctx context.Context, registrationID uint, operator string) (*models.KioskRegistration, error) {
	return s.decide(ctx, registrationID, operator, true)
}

// Deny 拒绝准入申请
func (s *admissionService) Deny(ctx context.Context, registrationID uint, operator string) (*models.KioskRegistration, error) {
	return s.decide(ctx, registrationID, operator, false)
}

// decide 执行准入裁决
//
// 状态迁移只允许 pending→approved 和 pending→denied，由仓储层的
// 条件更新保证：状态已经不是pending时更新影响0行，裁决视为冲突。
func (s *admissionService) decide(ctx context.Context, registrationID uint, operator string, approve bool) (*models.KioskRegistration, error) {
	registration, err := s.manager.KioskRegistration().FindByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !registration.IsPending() {
		return nil, apperrors.New(apperrors.ErrAdmissionDecided).WithDetails(registration.Status)
	}

	now := s.now()
	var moved bool
	if approve {
		moved, err = s.manager.KioskRegistration().Approve(ctx, registrationID, now)
	} else {
		moved, err = s.manager.KioskRegistration().Deny(ctx, registrationID, now)
	}
	if err != nil {
		s.log.Error("准入裁决失败", zap.Error(err), zap.Uint("registrationID", registrationID))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}
	if !moved {
		// 并发裁决中输掉的一方
		return nil, apperrors.New(apperrors.ErrAdmissionDecided)
	}

	action := models.OperationActionApprove
	event := "kiosk_approved"
	if !approve {
		action = models.OperationActionDeny
		event = "kiosk_denied"
	}

	s.writeDecisionLog(ctx, registration, operator, action)

	updated, err := s.manager.KioskRegistration().FindByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	logger.LogKioskEvent(event, registrationID, registration.SessionCode)
	return updated, nil
}

// writeDecisionLog 记录裁决审计日志，失败只告警不影响裁决结果
func (s *admissionService) writeDecisionLog(ctx context.Context, registration *models.KioskRegistration, operator, action string) {
	auditLog := &models.OperationLog{
		Operator:   operator,
		Action:     action,
		EntityType: "registration",
		EntityID:   formatUint(registration.ID),
		Details: models.JSONMap{
			"session_code": registration.SessionCode,
			"kiosk_name":   registration.KioskName,
		},
	}

	// 会话码可能已被重新生成，解析不到时日志不带会话ID
	if session, err := s.manager.GameSession().FindByCode(ctx, registration.SessionCode); err == nil {
		auditLog.SessionID = session.SessionID
	}

	if err := s.manager.OperationLog().Create(ctx, auditLog); err != nil {
		s.log.Warn("写入裁决审计日志失败", zap.Error(err), zap.Uint("registrationID", registration.ID))
	}
}

// GetRegistration 查询准入申请
func (s *admissionService) GetRegistration(ctx context.Context, registrationID uint) (*models.KioskRegistration, error) {
	return s.manager.KioskRegistration().FindByID(ctx, registrationID)
}

// RequireApproved 要求终端已通过准入
func (s *admissionService) RequireApproved(ctx context.Context, registrationID uint) (*models.KioskRegistration, error) {
	registration, err := s.manager.KioskRegistration().FindByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if !registration.IsApproved() {
		return nil, apperrors.New(apperrors.ErrAdmissionNotApproved).WithDetails(registration.Status)
	}
	return registration, nil
}

// ListPending 列出待裁决的申请
func (s *admissionService) ListPending(ctx context.Context, sessionCode string) ([]*models.KioskRegistration, error) {
	registrations, err := s.manager.KioskRegistration().ListPending(ctx, sessionCode)
	if err != nil {
		s.log.Error("查询待裁决申请失败", zap.Error(err), zap.String("code", sessionCode))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return registrations, nil
}

// ListByCode 列出会话码下的全部申请
func (s *admissionService) ListByCode(ctx context.Context, sessionCode string, page, pageSize int) ([]*models.KioskRegistration, int64, error) {
	p := repository.NewPagination(page, pageSize)
	registrations, err := s.manager.KioskRegistration().ListByCode(ctx, sessionCode, p)
	if err != nil {
		s.log.Error("查询准入申请失败", zap.Error(err), zap.String("code", sessionCode))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return registrations, p.Total, nil
}
