package repository

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// OperatorRepository 运营账号仓储接口
type OperatorRepository interface {
	BaseRepository
	Create(ctx context.Context, operator *models.Operator) error
	Update(ctx context.Context, operator *models.Operator) error
	Delete(ctx context.Context, id uint) error
	FindByID(ctx context.Context, id uint) (*models.Operator, error)
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)
	List(ctx context.Context, p *Pagination) ([]*models.Operator, error)
	UpdatePassword(ctx context.Context, id uint, hashedPassword string) error
	UpdateLoginInfo(ctx context.Context, id uint, ip string, at time.Time) error
	UpdateStatus(ctx context.Context, id uint, status string) error
}

// operatorRepo 运营账号仓储实现
type operatorRepo struct {
	*BaseRepo
}

// NewOperatorRepository 创建运营账号仓储
func NewOperatorRepository(db *gorm.DB) OperatorRepository {
	return &operatorRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建账号
func (r *operatorRepo) Create(ctx context.Context, operator *models.Operator) error {
	return r.db.WithContext(ctx).Create(operator).Error
}

// Update 更新账号
func (r *operatorRepo) Update(ctx context.Context, operator *models.Operator) error {
	return r.db.WithContext(ctx).Save(operator).Error
}

// Delete 删除账号（软删除）
func (r *operatorRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Operator{}, id).Error
}

// FindByID 根据ID查找
func (r *operatorRepo) FindByID(ctx context.Context, id uint) (*models.Operator, error) {
	var operator models.Operator
	err := r.db.WithContext(ctx).First(&operator, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrOperatorNotFound, "账号不存在")
		}
		return nil, err
	}
	return &operator, nil
}

// FindByUsername 根据用户名查找
func (r *operatorRepo) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var operator models.Operator
	err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&operator).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrOperatorNotFound, "账号不存在")
		}
		return nil, err
	}
	return &operator, nil
}

// List 列出账号（分页）
func (r *operatorRepo) List(ctx context.Context, p *Pagination) ([]*models.Operator, error) {
	var operators []*models.Operator

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Order("created_at desc").
		Scopes(Paginate(p)).
		Find(&operators).Error

	return operators, err
}

// UpdatePassword 更新密码
func (r *operatorRepo) UpdatePassword(ctx context.Context, id uint, hashedPassword string) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Update("password", hashedPassword).Error
}

// UpdateLoginInfo 更新最近登录信息
func (r *operatorRepo) UpdateLoginInfo(ctx context.Context, id uint, ip string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_login_at": at,
			"last_login_ip": ip,
		}).Error
}

// UpdateStatus 更新账号状态
func (r *operatorRepo) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// WithTx 使用事务
func (r *operatorRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &operatorRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
