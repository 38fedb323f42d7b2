package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// TransactionManager 事务管理器接口
type TransactionManager interface {
	// Begin 开始事务
	Begin(ctx context.Context) (*Transaction, error)
	// BeginWithOptions 使用选项开始事务
	BeginWithOptions(ctx context.Context, opts *TxOptions) (*Transaction, error)
	// WithTransaction 在事务中执行函数
	WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error
	// WithTransactionOptions 使用选项在事务中执行函数
	WithTransactionOptions(ctx context.Context, opts *TxOptions, fn func(tx *Transaction) error) error
}

// TxOptions 事务选项
type TxOptions struct {
	// IsolationLevel 事务隔离级别
	IsolationLevel string
	// ReadOnly 是否只读事务
	ReadOnly bool
}

// isolation 转换为database/sql隔离级别
func (o *TxOptions) isolation() sql.IsolationLevel {
	switch o.IsolationLevel {
	case IsolationLevelReadUncommitted:
		return sql.LevelReadUncommitted
	case IsolationLevelReadCommitted:
		return sql.LevelReadCommitted
	case IsolationLevelRepeatableRead:
		return sql.LevelRepeatableRead
	case IsolationLevelSerializable:
		return sql.LevelSerializable
	default:
		return sql.LevelDefault
	}
}

// Transaction 事务包装器
type Transaction struct {
	tx         *gorm.DB
	ctx        context.Context
	committed  bool
	rolledback bool

	// 事务中的仓储实例
	gameSession       GameSessionRepository
	gameTurn          GameTurnRepository
	snapshot          SnapshotRepository
	kioskRegistration KioskRegistrationRepository
	operator          OperatorRepository
	operationLog      OperationLogRepository
}

// txManager 事务管理器实现
type txManager struct {
	db *gorm.DB
}

// NewTransactionManager 创建事务管理器
func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &txManager{db: db}
}

// Begin 开始事务
func (m *txManager) Begin(ctx context.Context) (*Transaction, error) {
	return m.BeginWithOptions(ctx, nil)
}

// BeginWithOptions 使用选项开始事务
// SQLite 事务天然串行化且驱动不接受隔离选项，走普通 Begin；
// MySQL/PostgreSQL 把选项透传给驱动。
func (m *txManager) BeginWithOptions(ctx context.Context, opts *TxOptions) (*Transaction, error) {
	db := m.db.WithContext(ctx)

	var tx *gorm.DB
	if opts != nil && m.db.Dialector.Name() != "sqlite" {
		tx = db.Begin(&sql.TxOptions{
			Isolation: opts.isolation(),
			ReadOnly:  opts.ReadOnly,
		})
	} else {
		tx = db.Begin()
	}
	if tx.Error != nil {
		return nil, tx.Error
	}

	return &Transaction{
		tx:  tx,
		ctx: ctx,
	}, nil
}

// WithTransaction 在事务中执行函数
func (m *txManager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.WithTransactionOptions(ctx, nil, fn)
}

// WithTransactionOptions 使用选项在事务中执行函数
func (m *txManager) WithTransactionOptions(ctx context.Context, opts *TxOptions, fn func(tx *Transaction) error) error {
	tx, err := m.BeginWithOptions(ctx, opts)
	if err != nil {
		return err
	}

	// 确保事务被处理
	defer func() {
		if !tx.committed && !tx.rolledback {
			tx.Rollback()
		}
	}()

	// 执行业务逻辑
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	// 提交事务
	return tx.Commit()
}

// Commit 提交事务
func (t *Transaction) Commit() error {
	if t.committed {
		return fmt.Errorf("事务已提交")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}

	if err := t.tx.Commit().Error; err != nil {
		return err
	}

	t.committed = true
	return nil
}

// Rollback 回滚事务
func (t *Transaction) Rollback() error {
	if t.committed {
		return fmt.Errorf("事务已提交，无法回滚")
	}
	if t.rolledback {
		return fmt.Errorf("事务已回滚")
	}

	if err := t.tx.Rollback().Error; err != nil {
		return err
	}

	t.rolledback = true
	return nil
}

// GetDB 获取事务中的数据库实例
func (t *Transaction) GetDB() *gorm.DB {
	return t.tx
}

// GameSession 获取事务中的游戏会话仓储
func (t *Transaction) GameSession() GameSessionRepository {
	if t.gameSession == nil {
		t.gameSession = &gameSessionRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.gameSession
}

// GameTurn 获取事务中的回合账本仓储
func (t *Transaction) GameTurn() GameTurnRepository {
	if t.gameTurn == nil {
		t.gameTurn = &gameTurnRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.gameTurn
}

// Snapshot 获取事务中的遥测快照仓储
func (t *Transaction) Snapshot() SnapshotRepository {
	if t.snapshot == nil {
		t.snapshot = &snapshotRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.snapshot
}

// KioskRegistration 获取事务中的终端准入仓储
func (t *Transaction) KioskRegistration() KioskRegistrationRepository {
	if t.kioskRegistration == nil {
		t.kioskRegistration = &kioskRegistrationRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.kioskRegistration
}

// Operator 获取事务中的运营账号仓储
func (t *Transaction) Operator() OperatorRepository {
	if t.operator == nil {
		t.operator = &operatorRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.operator
}

// OperationLog 获取事务中的运营操作日志仓储
func (t *Transaction) OperationLog() OperationLogRepository {
	if t.operationLog == nil {
		t.operationLog = &operationLogRepo{
			BaseRepo: &BaseRepo{db: t.tx},
		}
	}
	return t.operationLog
}

// SavePoint 创建保存点
func (t *Transaction) SavePoint(name string) error {
	return t.tx.SavePoint(name).Error
}

// RollbackToSavePoint 回滚到保存点
func (t *Transaction) RollbackToSavePoint(name string) error {
	return t.tx.RollbackTo(name).Error
}

// TransactionHelper 事务辅助函数
type TransactionHelper struct {
	manager TransactionManager
}

// NewTransactionHelper 创建事务辅助器
func NewTransactionHelper(manager TransactionManager) *TransactionHelper {
	return &TransactionHelper{manager: manager}
}

// ExecuteInTransaction 在事务中执行多个操作
func (h *TransactionHelper) ExecuteInTransaction(ctx context.Context, operations ...func(tx *Transaction) error) error {
	return h.manager.WithTransaction(ctx, func(tx *Transaction) error {
		for i, op := range operations {
			// 创建保存点
			savePoint := fmt.Sprintf("sp_%d", i)
			if err := tx.SavePoint(savePoint); err != nil {
				return err
			}

			// 执行操作
			if err := op(tx); err != nil {
				// 回滚到保存点
				tx.RollbackToSavePoint(savePoint)
				return err
			}
		}
		return nil
	})
}

// RunInReadOnlyTransaction 在只读事务中执行
func (h *TransactionHelper) RunInReadOnlyTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	opts := &TxOptions{
		ReadOnly: true,
	}
	return h.manager.WithTransactionOptions(ctx, opts, fn)
}

// RunWithRetry 带重试的事务执行
// 锁冲突与序列化失败按退避间隔重试，其余错误直接返回。
func (h *TransactionHelper) RunWithRetry(ctx context.Context, maxRetries int, fn func(tx *Transaction) error) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := h.manager.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		// 检查是否是可重试的错误（如死锁）
		if !IsRetryableError(err) {
			return err
		}

		// 退避后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 50 * time.Millisecond):
		}
	}

	return fmt.Errorf("事务执行失败，已重试%d次: %w", maxRetries, lastErr)
}

// IsRetryableError 判断错误是否为锁冲突或序列化失败这类可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()

	// SQLite库级写锁冲突
	if strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") {
		return true
	}

	// MySQL死锁错误
	if strings.Contains(errStr, "Deadlock") {
		return true
	}

	// PostgreSQL死锁与序列化失败
	if strings.Contains(errStr, "deadlock detected") ||
		strings.Contains(errStr, "could not serialize access") {
		return true
	}

	// 连接错误
	if strings.Contains(errStr, "connection") && strings.Contains(errStr, "timeout") {
		return true
	}

	return false
}

// 事务隔离级别常量
const (
	// IsolationLevelReadUncommitted 读未提交
	IsolationLevelReadUncommitted = "READ UNCOMMITTED"
	// IsolationLevelReadCommitted 读已提交
	IsolationLevelReadCommitted = "READ COMMITTED"
	// IsolationLevelRepeatableRead 可重复读
	IsolationLevelRepeatableRead = "REPEATABLE READ"
	// IsolationLevelSerializable 串行化
	IsolationLevelSerializable = "SERIALIZABLE"
)
