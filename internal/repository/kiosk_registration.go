package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// KioskRegistrationRepository 终端准入仓储接口
type KioskRegistrationRepository interface {
	BaseRepository
	Create(ctx context.Context, registration *models.KioskRegistration) error
	FindByID(ctx context.Context, id uint) (*models.KioskRegistration, error)
	ListByCode(ctx context.Context, sessionCode string, p *Pagination) ([]*models.KioskRegistration, error)
	ListPending(ctx context.Context, sessionCode string) ([]*models.KioskRegistration, error)
	Approve(ctx context.Context, id uint, at time.Time) (bool, error)
	Deny(ctx context.Context, id uint, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, sessionCode string, status string) (int64, error)
}

// kioskRegistrationRepo 终端准入仓储实现
type kioskRegistrationRepo struct {
	*BaseRepo
}

// NewKioskRegistrationRepository 创建终端准入仓储
func NewKioskRegistrationRepository(db *gorm.DB) KioskRegistrationRepository {
	return &kioskRegistrationRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建准入申请
func (r *kioskRegistrationRepo) Create(ctx context.Context, registration *models.KioskRegistration) error {
	return r.db.WithContext(ctx).Create(registration).Error
}

// FindByID 根据ID查找申请
func (r *kioskRegistrationRepo) FindByID(ctx context.Context, id uint) (*models.KioskRegistration, error) {
	var registration models.KioskRegistration
	err := r.db.WithContext(ctx).First(&registration, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrRegistrationNotFound, "准入申请不存在")
		}
		return nil, err
	}
	return &registration, nil
}

// ListByCode 列出会话码下的全部申请（分页，新的在前）
func (r *kioskRegistrationRepo) ListByCode(ctx context.Context, sessionCode string, p *Pagination) ([]*models.KioskRegistration, error) {
	var registrations []*models.KioskRegistration

	query := r.db.WithContext(ctx).
		Model(&models.KioskRegistration{}).
		Where("session_code = ?", sessionCode)

	// 查询总数
	query.Count(&p.Total)

	// 查询数据
	err := query.
		Order("created_at desc").
		Scopes(Paginate(p)).
		Find(&registrations).Error

	return registrations, err
}

// ListPending 列出会话码下待处理的申请
func (r *kioskRegistrationRepo) ListPending(ctx context.Context, sessionCode string) ([]*models.KioskRegistration, error) {
	var registrations []*models.KioskRegistration
	err := r.db.WithContext(ctx).
		Where("session_code = ? AND status = ?", sessionCode, models.RegistrationStatusPending).
		Order("created_at asc").
		Find(&registrations).Error
	return registrations, err
}

// Approve 通过准入申请
// 只允许从 pending 迁移，带状态条件的单行更新天然互斥，
// 返回 false 表示状态已被他人改过。
func (r *kioskRegistrationRepo) Approve(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.KioskRegistration{}).
		Where("id = ? AND status = ?", id, models.RegistrationStatusPending).
		Updates(map[string]interface{}{
			"status":      models.RegistrationStatusApproved,
			"approved_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Deny 拒绝准入申请
func (r *kioskRegistrationRepo) Deny(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.KioskRegistration{}).
		Where("id = ? AND status = ?", id, models.RegistrationStatusPending).
		Updates(map[string]interface{}{
			"status":    models.RegistrationStatusDenied,
			"denied_at": at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountByStatus 按状态统计会话码下的申请数
func (r *kioskRegistrationRepo) CountByStatus(ctx context.Context, sessionCode string, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.KioskRegistration{}).
		Where("session_code = ? AND status = ?", sessionCode, status).
		Count(&count).Error
	return count, err
}

// WithTx 使用事务
func (r *kioskRegistrationRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &kioskRegistrationRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
