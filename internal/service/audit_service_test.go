package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditServiceTestSuite 审计服务测试套件
type AuditServiceTestSuite struct {
	suite.Suite
	db      *gorm.DB
	manager *repository.Manager
	audit   AuditService
	now     time.Time
}

// SetupSuite 设置测试套件
func (suite *AuditServiceTestSuite) SetupSuite() {
	suite.db = repository.SetupTestDB()
	suite.manager = repository.NewManager(suite.db)
	suite.now = time.Date(2025, 11, 3, 12, 0, 0, 0, time.Local)
	suite.audit = NewAuditService(suite.manager, zap.NewNop(), func() time.Time { return suite.now })
}

// TearDownSuite 清理测试套件
func (suite *AuditServiceTestSuite) TearDownSuite() {
	repository.CleanupTestDB(suite.db)
}

// SetupTest 每个测试前执行
func (suite *AuditServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM operation_logs")
}

// seedLogs 写入一组操作日志
func (suite *AuditServiceTestSuite) seedLogs() {
	logs := []*models.OperationLog{
		{Operator: "admin", Action: models.OperationActionCreateSession, SessionID: "ruby-relay", CreatedAt: suite.now.Add(-3 * time.Hour)},
		{Operator: "admin", Action: models.OperationActionRestore, SessionID: "ruby-relay", CreatedAt: suite.now.Add(-2 * time.Hour)},
		{Operator: "night_shift", Action: models.OperationActionApprove, SessionID: "sapphire-relay", CreatedAt: suite.now.Add(-1 * time.Hour)},
	}
	for _, log := range logs {
		require.NoError(suite.T(), suite.manager.OperationLog().Create(context.Background(), log))
	}
}

// TestSearchByOperator 测试按操作者检索
func (suite *AuditServiceTestSuite) TestSearchByOperator() {
	suite.seedLogs()

	logs, total, err := suite.audit.Search(context.Background(), &AuditQuery{Operator: "admin"})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), total)
	assert.Len(suite.T(), logs, 2)
	for _, log := range logs {
		assert.Equal(suite.T(), "admin", log.Operator)
	}
}

// TestSearchByActionAndSession 测试组合条件检索
func (suite *AuditServiceTestSuite) TestSearchByActionAndSession() {
	suite.seedLogs()

	logs, total, err := suite.audit.Search(context.Background(), &AuditQuery{
		Action:    models.OperationActionRestore,
		SessionID: "ruby-relay",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), total)
	assert.Len(suite.T(), logs, 1)
	assert.Equal(suite.T(), models.OperationActionRestore, logs[0].Action)
}

// TestSearchByTimeRange 测试时间范围检索
func (suite *AuditServiceTestSuite) TestSearchByTimeRange() {
	suite.seedLogs()

	start := suite.now.Add(-150 * time.Minute)
	end := suite.now.Add(-30 * time.Minute)
	logs, total, err := suite.audit.Search(context.Background(), &AuditQuery{
		StartTime: &start,
		EndTime:   &end,
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), total)
	assert.Len(suite.T(), logs, 2)

	// 区间颠倒直接报参数错误
	_, _, err = suite.audit.Search(context.Background(), &AuditQuery{
		StartTime: &end,
		EndTime:   &start,
	})
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrInvalidParam))
}

// TestListBySession 测试会话维度的日志
func (suite *AuditServiceTestSuite) TestListBySession() {
	suite.seedLogs()

	logs, total, err := suite.audit.ListBySession(context.Background(), "ruby-relay", 1, 10)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), total)
	assert.Len(suite.T(), logs, 2)
}

// TestCleanup 测试历史日志清理
func (suite *AuditServiceTestSuite) TestCleanup() {
	suite.seedLogs()

	// 保留期2.5小时：只有3小时前那条出界
	deleted, err := suite.audit.Cleanup(context.Background(), 150*time.Minute)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), deleted)

	var count int64
	suite.db.Model(&models.OperationLog{}).Count(&count)
	assert.Equal(suite.T(), int64(2), count)

	// 非正保留期被拒绝
	_, err = suite.audit.Cleanup(context.Background(), 0)
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrInvalidParam))
}

// TestRunAuditServiceTestSuite 运行测试套件
func TestRunAuditServiceTestSuite(t *testing.T) {
	suite.Run(t, new(AuditServiceTestSuite))
}
