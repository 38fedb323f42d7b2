package service

import (
	"context"
	"errors"
	"regexp"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"github.com/wfunc/retro-relay/internal/utils"
	"go.uber.org/zap"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

// 运营账号角色与状态
var (
	operatorRoles    = map[string]bool{"admin": true, "operator": true}
	operatorStatuses = map[string]bool{"active": true, "disabled": true}
)

// authService 运营账号认证服务实现
type authService struct {
	operators  repository.OperatorRepository
	jwtManager *utils.JWTManager
	log        *zap.Logger
	now        func() time.Time
}

// NewAuthService 创建认证服务
func NewAuthService(operators repository.OperatorRepository, jwtManager *utils.JWTManager, log *zap.Logger, now func() time.Time) AuthService {
	if now == nil {
		now = time.Now
	}
	return &authService{
		operators:  operators,
		jwtManager: jwtManager,
		log:        log,
		now:        now,
	}
}

// Login 运营账号登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if req == nil || req.Username == "" || req.Password == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "缺少用户名或密码")
	}

	operator, err := s.operators.FindByUsername(ctx, req.Username)
	if err != nil {
		if apperrors.IsNotFound(err) {
			s.log.Warn("登录失败：账号不存在", zap.String("username", req.Username))
			// 不区分账号不存在与密码错误
			return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
		}
		return nil, err
	}

	if !operator.CanLogin() {
		return nil, apperrors.New(apperrors.ErrOperatorDisabled).WithDetails(operator.Username)
	}

	valid, err := utils.VerifyPassword(req.Password, operator.Password)
	if err != nil || !valid {
		s.log.Warn("登录失败：密码错误", zap.String("username", req.Username))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}

	now := s.now()
	if err := s.operators.UpdateLoginInfo(ctx, operator.ID, req.IP, now); err != nil {
		s.log.Warn("更新登录信息失败", zap.Error(err), zap.Uint("operatorID", operator.ID))
	}
	operator.LastLoginAt = &now
	operator.LastLoginIP = req.IP

	resp, err := s.issueTokens(operator)
	if err != nil {
		return nil, err
	}

	s.log.Info("运营账号登录成功", zap.Uint("operatorID", operator.ID), zap.String("username", operator.Username))
	return resp, nil
}

// RefreshToken 用刷新令牌换新的访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, s.mapTokenError(err)
	}
	if claims.TokenType != "refresh" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "不是刷新令牌")
	}

	operator, err := s.operators.FindByID(ctx, claims.OperatorID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.New(apperrors.ErrTokenInvalid, "账号已不存在")
		}
		return nil, err
	}
	if !operator.CanLogin() {
		return nil, apperrors.New(apperrors.ErrOperatorDisabled).WithDetails(operator.Username)
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(operator.ID, operator.Username, operator.Role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrAuthentication, "生成访问令牌失败")
	}

	s.log.Info("访问令牌已刷新", zap.Uint("operatorID", operator.ID))

	return &AuthResponse{
		Operator:     operator,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// ValidateToken 校验访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		return nil, s.mapTokenError(err)
	}
	if claims.TokenType != "access" {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "不是访问令牌")
	}
	return claims, nil
}

// ChangePassword 修改自己的密码
func (s *authService) ChangePassword(ctx context.Context, operatorID uint, req *ChangePasswordRequest) error {
	if req == nil || req.OldPassword == "" {
		return apperrors.New(apperrors.ErrInvalidParam, "缺少旧密码")
	}
	if len(req.NewPassword) < 6 {
		return apperrors.New(apperrors.ErrInvalidParam, "新密码长度至少6个字符")
	}

	operator, err := s.operators.FindByID(ctx, operatorID)
	if err != nil {
		return err
	}

	valid, err := utils.VerifyPassword(req.OldPassword, operator.Password)
	if err != nil || !valid {
		return apperrors.New(apperrors.ErrAuthentication, "旧密码不正确")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrAuthentication, "密码加密失败")
	}

	if err := s.operators.UpdatePassword(ctx, operatorID, hashed); err != nil {
		s.log.Error("更新密码失败", zap.Error(err), zap.Uint("operatorID", operatorID))
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}

	s.log.Info("密码已修改", zap.Uint("operatorID", operatorID))
	return nil
}

// CreateOperator 创建运营账号
func (s *authService) CreateOperator(ctx context.Context, req *CreateOperatorRequest) (*models.Operator, error) {
	if req == nil || !usernamePattern.MatchString(req.Username) {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "用户名只能包含字母、数字和下划线，长度3-50")
	}
	if len(req.Password) < 6 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "密码长度至少6个字符")
	}
	role := req.Role
	if role == "" {
		role = "operator"
	}
	if !operatorRoles[role] {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "无效的角色").WithDetails(role)
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrAuthentication, "密码加密失败")
	}

	operator := &models.Operator{
		Username: req.Username,
		Nickname: req.Nickname,
		Password: hashed,
		Role:     role,
	}
	if err := s.operators.Create(ctx, operator); err != nil {
		if repository.IsDuplicateKeyError(err) {
			return nil, apperrors.New(apperrors.ErrAlreadyExists, "用户名已存在").WithDetails(req.Username)
		}
		s.log.Error("创建运营账号失败", zap.Error(err), zap.String("username", req.Username))
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}

	s.log.Info("运营账号已创建",
		zap.Uint("operatorID", operator.ID),
		zap.String("username", operator.Username),
		zap.String("creator", req.Creator))
	return operator, nil
}

// GetOperator 查询运营账号
func (s *authService) GetOperator(ctx context.Context, operatorID uint) (*models.Operator, error) {
	return s.operators.FindByID(ctx, operatorID)
}

// ListOperators 列出运营账号
func (s *authService) ListOperators(ctx context.Context, page, pageSize int) ([]*models.Operator, int64, error) {
	p := repository.NewPagination(page, pageSize)
	operators, err := s.operators.List(ctx, p)
	if err != nil {
		s.log.Error("查询账号列表失败", zap.Error(err))
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return operators, p.Total, nil
}

// SetOperatorStatus 启停运营账号
func (s *authService) SetOperatorStatus(ctx context.Context, operatorID uint, status string) error {
	if !operatorStatuses[status] {
		return apperrors.New(apperrors.ErrInvalidParam, "无效的状态").WithDetails(status)
	}
	if _, err := s.operators.FindByID(ctx, operatorID); err != nil {
		return err
	}
	if err := s.operators.UpdateStatus(ctx, operatorID, status); err != nil {
		s.log.Error("更新账号状态失败", zap.Error(err), zap.Uint("operatorID", operatorID))
		return apperrors.Wrap(err, apperrors.ErrDatabaseUpdate)
	}

	s.log.Info("账号状态已更新", zap.Uint("operatorID", operatorID), zap.String("status", status))
	return nil
}

// issueTokens 签发访问与刷新令牌
func (s *authService) issueTokens(operator *models.Operator) (*AuthResponse, error) {
	accessToken, err := s.jwtManager.GenerateAccessToken(operator.ID, operator.Username, operator.Role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrAuthentication, "生成访问令牌失败")
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(operator.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrAuthentication, "生成刷新令牌失败")
	}

	return &AuthResponse{
		Operator:     operator,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry("access").Seconds()),
		TokenType:    "Bearer",
	}, nil
}

// mapTokenError 把JWT库错误翻译成应用错误
func (s *authService) mapTokenError(err error) error {
	if errors.Is(err, utils.ErrExpiredToken) {
		return apperrors.New(apperrors.ErrTokenExpired)
	}
	return apperrors.Wrap(err, apperrors.ErrTokenInvalid)
}
