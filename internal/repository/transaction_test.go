package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/retro-relay/internal/models"
)

func TestTransactionManager_Begin(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	// 开始事务
	tx, err := manager.Begin(ctx)
	require.NoError(t, err)
	assert.NotNil(t, tx)
	assert.NotNil(t, tx.GetDB())

	// 提交事务
	err = tx.Commit()
	require.NoError(t, err)
}

func TestTransactionManager_BeginWithOptions(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	// SQLite下选项被忽略，事务照常可用
	opts := &TxOptions{
		IsolationLevel: IsolationLevelSerializable,
		ReadOnly:       true,
	}

	tx, err := manager.BeginWithOptions(ctx, opts)
	require.NoError(t, err)
	assert.NotNil(t, tx)

	// 提交事务
	err = tx.Commit()
	require.NoError(t, err)
}

func TestTransactionManager_WithTransaction(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	// 成功的事务
	var turnID string
	err := manager.WithTransaction(ctx, func(tx *Transaction) error {
		// 创建会话
		session := CreateTestSession("tx-session", "700001")
		if err := tx.GameSession().Create(ctx, session); err != nil {
			return err
		}

		// 创建回合
		turn := CreateTestTurn("tx-session", "小智", time.Now())
		if err := tx.GameTurn().Create(ctx, turn); err != nil {
			return err
		}
		turnID = turn.ID

		return nil
	})
	require.NoError(t, err)

	// 验证数据已创建
	turnRepo := NewGameTurnRepository(db)
	turn, err := turnRepo.FindByID(ctx, turnID)
	require.NoError(t, err)
	assert.Equal(t, "tx-session", turn.SessionID)
}

func TestTransactionManager_Rollback(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	// 失败的事务（应该回滚）
	err := manager.WithTransaction(ctx, func(tx *Transaction) error {
		session := CreateTestSession("rollback-session", "700002")
		if err := tx.GameSession().Create(ctx, session); err != nil {
			return err
		}

		// 故意返回错误以触发回滚
		return errors.New("故意的错误")
	})
	assert.Error(t, err)

	// 验证数据未创建（已回滚）
	sessionRepo := NewGameSessionRepository(db)
	session, err := sessionRepo.FindByID(ctx, "rollback-session")
	assert.Error(t, err)
	assert.Nil(t, session)
}

func TestTransaction_CommitRollback(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	// 测试手动提交
	tx1, err := manager.Begin(ctx)
	require.NoError(t, err)

	session1 := CreateTestSession("manual-commit", "700003")
	err = tx1.GameSession().Create(ctx, session1)
	require.NoError(t, err)

	err = tx1.Commit()
	require.NoError(t, err)

	// 验证重复提交错误
	err = tx1.Commit()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "已提交")

	// 测试手动回滚
	tx2, err := manager.Begin(ctx)
	require.NoError(t, err)

	session2 := CreateTestSession("manual-rollback", "700004")
	err = tx2.GameSession().Create(ctx, session2)
	require.NoError(t, err)

	err = tx2.Rollback()
	require.NoError(t, err)

	// 验证重复回滚错误
	err = tx2.Rollback()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "已回滚")

	// 验证已回滚的事务不能提交
	err = tx2.Commit()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "已回滚")
}

func TestTransaction_SavePoint(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	tx, err := manager.Begin(ctx)
	require.NoError(t, err)

	// 创建会话1
	session1 := CreateTestSession("sp-keep", "700005")
	err = tx.GameSession().Create(ctx, session1)
	require.NoError(t, err)

	// 创建保存点
	err = tx.SavePoint("sp1")
	require.NoError(t, err)

	// 创建会话2
	session2 := CreateTestSession("sp-discard", "700006")
	err = tx.GameSession().Create(ctx, session2)
	require.NoError(t, err)

	// 回滚到保存点
	err = tx.RollbackToSavePoint("sp1")
	require.NoError(t, err)

	// 提交事务
	err = tx.Commit()
	require.NoError(t, err)

	// 会话1应该存在
	sessionRepo := NewGameSessionRepository(db)
	found1, err := sessionRepo.FindByID(ctx, "sp-keep")
	require.NoError(t, err)
	assert.NotNil(t, found1)

	// 会话2不应该存在
	found2, err := sessionRepo.FindByID(ctx, "sp-discard")
	assert.Error(t, err)
	assert.Nil(t, found2)
}

func TestTransaction_RepositoryAccess(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	ctx := context.Background()

	err := manager.WithTransaction(ctx, func(tx *Transaction) error {
		// 测试获取各种仓储
		assert.NotNil(t, tx.GameSession())
		assert.NotNil(t, tx.GameTurn())
		assert.NotNil(t, tx.Snapshot())
		assert.NotNil(t, tx.KioskRegistration())
		assert.NotNil(t, tx.Operator())
		assert.NotNil(t, tx.OperationLog())

		// 验证重复获取返回相同实例
		first := tx.GameTurn()
		second := tx.GameTurn()
		assert.Equal(t, first, second)

		return nil
	})
	require.NoError(t, err)
}

func TestTransactionHelper_ExecuteInTransaction(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	helper := NewTransactionHelper(manager)
	ctx := context.Background()

	var turnID string

	// 定义操作
	op1 := func(tx *Transaction) error {
		session := CreateTestSession("helper-session", "700007")
		return tx.GameSession().Create(ctx, session)
	}

	op2 := func(tx *Transaction) error {
		turn := CreateTestTurn("helper-session", "小霞", time.Now())
		err := tx.GameTurn().Create(ctx, turn)
		turnID = turn.ID
		return err
	}

	// 执行操作
	err := helper.ExecuteInTransaction(ctx, op1, op2)
	require.NoError(t, err)

	// 验证数据已创建
	sessionRepo := NewGameSessionRepository(db)
	session, err := sessionRepo.FindByID(ctx, "helper-session")
	require.NoError(t, err)
	assert.NotNil(t, session)

	turnRepo := NewGameTurnRepository(db)
	turn, err := turnRepo.FindByID(ctx, turnID)
	require.NoError(t, err)
	assert.NotNil(t, turn)
}

func TestTransactionHelper_RunInReadOnlyTransaction(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	helper := NewTransactionHelper(manager)
	ctx := context.Background()

	var sessionCount int64

	err := helper.RunInReadOnlyTransaction(ctx, func(tx *Transaction) error {
		// 在只读事务中查询数据
		var sessions []models.GameSession
		if err := tx.GetDB().Find(&sessions).Error; err != nil {
			return err
		}
		sessionCount = int64(len(sessions))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sessionCount)
}

func TestTransactionHelper_RunWithRetry(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewTransactionManager(db)
	helper := NewTransactionHelper(manager)
	ctx := context.Background()

	// 不可重试的错误立即返回
	attempts := 0
	err := helper.RunWithRetry(ctx, 3, func(tx *Transaction) error {
		attempts++
		return errors.New("业务校验失败")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)

	// 可重试的错误按次数重试后放弃
	attempts = 0
	err = helper.RunWithRetry(ctx, 3, func(tx *Transaction) error {
		attempts++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "已重试3次")

	// 第二次尝试成功
	attempts = 0
	err = helper.RunWithRetry(ctx, 3, func(tx *Transaction) error {
		attempts++
		if attempts == 1 {
			return errors.New("database is locked")
		}
		session := CreateTestSession("retry-session", "700008")
		return tx.GameSession().Create(ctx, session)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	sessionRepo := NewGameSessionRepository(db)
	session, err := sessionRepo.FindByID(ctx, "retry-session")
	require.NoError(t, err)
	assert.NotNil(t, session)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(errors.New("一般错误")))
	assert.True(t, IsRetryableError(errors.New("database is locked")))
	assert.True(t, IsRetryableError(errors.New("Error 1213: Deadlock found when trying to get lock")))
	assert.True(t, IsRetryableError(errors.New("pq: deadlock detected")))
	assert.True(t, IsRetryableError(errors.New("ERROR: could not serialize access due to concurrent update")))
	assert.True(t, IsRetryableError(errors.New("connection reset: read timeout")))
}

func TestManager_Integration(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewManager(db)
	ctx := context.Background()

	// 测试获取各种仓储
	assert.NotNil(t, manager.GameSession())
	assert.NotNil(t, manager.GameTurn())
	assert.NotNil(t, manager.Snapshot())
	assert.NotNil(t, manager.KioskRegistration())
	assert.NotNil(t, manager.Operator())
	assert.NotNil(t, manager.OperationLog())

	// 测试事务管理器
	assert.NotNil(t, manager.Transaction())

	// 测试在事务中执行
	err := manager.WithTransaction(ctx, func(tx *Transaction) error {
		session := CreateTestSession("manager-session", "700009")
		return tx.GameSession().Create(ctx, session)
	})
	require.NoError(t, err)

	// 验证数据已创建
	session, err := manager.GameSession().FindByID(ctx, "manager-session")
	require.NoError(t, err)
	assert.NotNil(t, session)

	// 只读事务中读回
	err = manager.WithReadOnlyTransaction(ctx, func(tx *Transaction) error {
		found, err := tx.GameSession().FindByID(ctx, "manager-session")
		if err != nil {
			return err
		}
		assert.Equal(t, "700009", found.Code)
		return nil
	})
	require.NoError(t, err)
}

func TestBatchOperator_CreateSessionWithLog(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewManager(db)
	batch := NewBatchOperator(manager)
	ctx := context.Background()

	session := CreateTestSession("batch-session", "700010")
	log := &models.OperationLog{
		Operator: "admin",
		Action:   models.OperationActionCreateSession,
		Details:  models.JSONMap{"name": session.Name},
	}

	err := batch.CreateSessionWithLog(ctx, session, log)
	require.NoError(t, err)

	// 验证会话已创建
	found, err := manager.GameSession().FindByID(ctx, "batch-session")
	require.NoError(t, err)
	assert.NotNil(t, found)

	// 验证日志已关联
	p := NewPagination(1, 10)
	logs, err := manager.OperationLog().ListBySession(ctx, "batch-session", p)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.OperationActionCreateSession, logs[0].Action)
	assert.Equal(t, "batch-session", logs[0].EntityID)
}

func TestBatchOperator_CleanupOperationLogs(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewManager(db)
	batch := NewBatchOperator(manager)
	ctx := context.Background()

	// 写入新旧日志
	old := &models.OperationLog{
		CreatedAt: time.Now().Add(-72 * time.Hour),
		Operator:  "admin",
		Action:    models.OperationActionActivate,
		SessionID: "session-emerald",
	}
	require.NoError(t, manager.OperationLog().Create(ctx, old))

	fresh := &models.OperationLog{
		Operator:  "admin",
		Action:    models.OperationActionActivate,
		SessionID: "session-emerald",
	}
	require.NoError(t, manager.OperationLog().Create(ctx, fresh))

	deleted, err := batch.CleanupOperationLogs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestUnitOfWork(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	manager := NewManager(db)
	ctx := context.Background()

	// 创建工作单元
	uow := NewUnitOfWork(manager)

	// 注册操作1：创建会话
	uow.Register(func(tx *Transaction) error {
		session := CreateTestSession("uow-session", "700011")
		return tx.GameSession().Create(ctx, session)
	})

	// 注册操作2：创建准入申请
	uow.Register(func(tx *Transaction) error {
		registration := CreateTestRegistration("700011", "工作单元终端")
		return tx.KioskRegistration().Create(ctx, registration)
	})

	// 提交工作单元
	err := uow.Commit(ctx)
	require.NoError(t, err)

	// 验证操作已执行
	session, err := manager.GameSession().FindByID(ctx, "uow-session")
	require.NoError(t, err)
	assert.NotNil(t, session)

	pending, err := manager.KioskRegistration().ListPending(ctx, "700011")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// 清除工作单元
	uow.Clear()

	// 再次提交应该什么都不做
	err = uow.Commit(ctx)
	require.NoError(t, err)
}

func TestProvider(t *testing.T) {
	db := TestDB(t)
	SeedTestData(t, db)
	provider := NewProvider(db)

	// 测试获取管理器
	manager := provider.GetManager()
	assert.NotNil(t, manager)

	// 测试获取各种仓储
	assert.NotNil(t, provider.GameSession())
	assert.NotNil(t, provider.GameTurn())
	assert.NotNil(t, provider.Snapshot())
	assert.NotNil(t, provider.KioskRegistration())
}
