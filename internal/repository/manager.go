package repository

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 事务管理器
	txManager TransactionManager

	// 仓储实例（使用懒加载）
	gameSessionOnce sync.Once
	gameSession     GameSessionRepository

	gameTurnOnce sync.Once
	gameTurn     GameTurnRepository

	snapshotOnce sync.Once
	snapshot     SnapshotRepository

	kioskRegistrationOnce sync.Once
	kioskRegistration     KioskRegistrationRepository

	operatorOnce sync.Once
	operator     OperatorRepository

	operationLogOnce sync.Once
	operationLog     OperationLogRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Transaction 获取事务管理器
func (m *Manager) Transaction() TransactionManager {
	return m.txManager
}

// GameSession 获取游戏会话仓储
func (m *Manager) GameSession() GameSessionRepository {
	m.gameSessionOnce.Do(func() {
		m.gameSession = NewGameSessionRepository(m.db)
	})
	return m.gameSession
}

// GameTurn 获取回合账本仓储
func (m *Manager) GameTurn() GameTurnRepository {
	m.gameTurnOnce.Do(func() {
		m.gameTurn = NewGameTurnRepository(m.db)
	})
	return m.gameTurn
}

// Snapshot 获取遥测快照仓储
func (m *Manager) Snapshot() SnapshotRepository {
	m.snapshotOnce.Do(func() {
		m.snapshot = NewSnapshotRepository(m.db)
	})
	return m.snapshot
}

// KioskRegistration 获取终端准入仓储
func (m *Manager) KioskRegistration() KioskRegistrationRepository {
	m.kioskRegistrationOnce.Do(func() {
		m.kioskRegistration = NewKioskRegistrationRepository(m.db)
	})
	return m.kioskRegistration
}

// Operator 获取运营账号仓储
func (m *Manager) Operator() OperatorRepository {
	m.operatorOnce.Do(func() {
		m.operator = NewOperatorRepository(m.db)
	})
	return m.operator
}

// OperationLog 获取运营操作日志仓储
func (m *Manager) OperationLog() OperationLogRepository {
	m.operationLogOnce.Do(func() {
		m.operationLog = NewOperationLogRepository(m.db)
	})
	return m.operationLog
}

// WithTransaction 在事务中执行操作
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.txManager.WithTransaction(ctx, fn)
}

// WithReadOnlyTransaction 在只读事务中执行操作
func (m *Manager) WithReadOnlyTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	opts := &TxOptions{
		ReadOnly: true,
	}
	return m.txManager.WithTransactionOptions(ctx, opts, fn)
}

// RepositoryProvider 仓储提供者接口，用于依赖注入
type RepositoryProvider interface {
	GetManager() *Manager
	GameSession() GameSessionRepository
	GameTurn() GameTurnRepository
	Snapshot() SnapshotRepository
	KioskRegistration() KioskRegistrationRepository
}

// provider 仓储提供者实现
type provider struct {
	manager *Manager
}

// NewProvider 创建仓储提供者
func NewProvider(db *gorm.DB) RepositoryProvider {
	return &provider{
		manager: NewManager(db),
	}
}

// GetManager 获取仓储管理器
func (p *provider) GetManager() *Manager {
	return p.manager
}

// GameSession 获取游戏会话仓储
func (p *provider) GameSession() GameSessionRepository {
	return p.manager.GameSession()
}

// GameTurn 获取回合账本仓储
func (p *provider) GameTurn() GameTurnRepository {
	return p.manager.GameTurn()
}

// Snapshot 获取遥测快照仓储
func (p *provider) Snapshot() SnapshotRepository {
	return p.manager.Snapshot()
}

// KioskRegistration 获取终端准入仓储
func (p *provider) KioskRegistration() KioskRegistrationRepository {
	return p.manager.KioskRegistration()
}

// UnitOfWork 工作单元模式实现
type UnitOfWork struct {
	manager    *Manager
	operations []func(*Transaction) error
}

// NewUnitOfWork 创建工作单元
func NewUnitOfWork(manager *Manager) *UnitOfWork {
	return &UnitOfWork{
		manager:    manager,
		operations: make([]func(*Transaction) error, 0),
	}
}

// Register 注册操作
func (u *UnitOfWork) Register(op func(*Transaction) error) {
	u.operations = append(u.operations, op)
}

// Commit 提交所有操作
func (u *UnitOfWork) Commit(ctx context.Context) error {
	return u.manager.WithTransaction(ctx, func(tx *Transaction) error {
		for _, op := range u.operations {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear 清除所有操作
func (u *UnitOfWork) Clear() {
	u.operations = u.operations[:0]
}

// BatchOperator 批量操作器
type BatchOperator struct {
	manager *Manager
}

// NewBatchOperator 创建批量操作器
func NewBatchOperator(manager *Manager) *BatchOperator {
	return &BatchOperator{manager: manager}
}

// CreateSessionWithLog 创建会话并记录运营日志
func (b *BatchOperator) CreateSessionWithLog(
	ctx context.Context,
	session *models.GameSession,
	log *models.OperationLog,
) error {
	return b.manager.WithTransaction(ctx, func(tx *Transaction) error {
		// 创建会话
		if err := tx.GameSession().Create(ctx, session); err != nil {
			return err
		}

		// 补全日志关联
		log.SessionID = session.SessionID
		log.EntityType = "session"
		log.EntityID = session.SessionID

		// 写入运营日志
		if err := tx.OperationLog().Create(ctx, log); err != nil {
			return err
		}

		return nil
	})
}

// CleanupOperationLogs 清理历史运营日志（事务中）
func (b *BatchOperator) CleanupOperationLogs(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := b.manager.WithTransaction(ctx, func(tx *Transaction) error {
		n, err := tx.OperationLog().CleanupOldLogs(ctx, before)
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	return deleted, err
}
