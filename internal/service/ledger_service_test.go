package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/retro-relay/internal/blobstore"
	apperrors "github.com/wfunc/retro-relay/internal/errors"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LedgerServiceTestSuite 时间线服务测试套件
type LedgerServiceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	manager  *repository.Manager
	blobs    *blobstore.Store
	ledger   LedgerService
	sessions SessionService
}

// SetupSuite 设置测试套件
func (suite *LedgerServiceTestSuite) SetupSuite() {
	suite.db = repository.SetupTestDB()
	suite.manager = repository.NewManager(suite.db)

	blobs, err := blobstore.Open(filepath.Join(suite.T().TempDir(), "savestates.db"), time.Second)
	require.NoError(suite.T(), err)
	suite.blobs = blobs

	log := zap.NewNop()
	suite.ledger = NewLedgerService(suite.manager, blobs, DefaultConfig(), log, nil)
	suite.sessions = NewSessionService(suite.manager, 10, log, nil)
}

// TearDownSuite 清理测试套件
func (suite *LedgerServiceTestSuite) TearDownSuite() {
	suite.blobs.Close()
	repository.CleanupTestDB(suite.db)
}

// SetupTest 每个测试前执行
func (suite *LedgerServiceTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM game_state_snapshots")
	suite.db.Exec("DELETE FROM game_turns")
	suite.db.Exec("DELETE FROM operation_logs")
	suite.db.Exec("DELETE FROM game_sessions")
}

// activeSession 创建并激活一个会话
func (suite *LedgerServiceTestSuite) activeSession(sessionID string) *models.GameSession {
	ctx := context.Background()
	_, err := suite.sessions.CreateSession(ctx, &CreateSessionRequest{SessionID: sessionID})
	require.NoError(suite.T(), err)
	session, err := suite.sessions.Activate(ctx, sessionID, "admin")
	require.NoError(suite.T(), err)
	return session
}

// commitTurn 提交一个回合
func (suite *LedgerServiceTestSuite) commitTurn(sessionID, player string, payload []byte) *models.GameTurn {
	turn, err := suite.ledger.CommitTurn(context.Background(), &CommitTurnRequest{
		SessionID:  sessionID,
		PlayerName: player,
		Location:   "真新镇",
		Money:      3000,
		SaveState:  payload,
	})
	require.NoError(suite.T(), err)
	return turn
}

// TestCommitTurn 测试提交回合
func (suite *LedgerServiceTestSuite) TestCommitTurn() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	payload := []byte("savestate after gym one")
	turn, err := suite.ledger.CommitTurn(ctx, &CommitTurnRequest{
		SessionID:       "ruby-relay",
		PlayerName:      "小霞",
		Location:        "华蓝市",
		Money:           4500,
		BadgeCount:      2,
		PlaytimeSeconds: 5400,
		TurnDuration:    1800,
		Message:         "打败了小刚",
		SaveState:       payload,
	})
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), turn.ID, 36)
	assert.Equal(suite.T(), "小霞", turn.PlayerName)
	assert.False(suite.T(), turn.TurnEndedAt.IsZero())
	// 存档键是内容摘要
	assert.Equal(suite.T(), blobstore.Key(payload), turn.SaveStateKey)
	assert.False(suite.T(), turn.IsInvalidated())

	// 会话的当前存档指向新回合
	session, err := suite.sessions.GetByID(ctx, "ruby-relay")
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), session.HasSaveState())
	assert.Equal(suite.T(), turn.SaveStateKey, *session.CurrentSaveStateKey)

	// 存档可以原样取回
	data, got, err := suite.ledger.GetSaveState(ctx, turn.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), payload, data)
	assert.Equal(suite.T(), turn.ID, got.ID)
}

// TestCommitInactiveSession 测试向停用会话提交
func (suite *LedgerServiceTestSuite) TestCommitInactiveSession() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")
	_, err := suite.sessions.Deactivate(ctx, "ruby-relay", "admin")
	require.NoError(suite.T(), err)

	_, err = suite.ledger.CommitTurn(ctx, &CommitTurnRequest{
		SessionID:  "ruby-relay",
		PlayerName: "小霞",
		SaveState:  []byte("payload"),
	})
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrSessionInactive))
}

// TestCommitValidation 测试提交参数校验
func (suite *LedgerServiceTestSuite) TestCommitValidation() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	cases := []*CommitTurnRequest{
		{SessionID: "ruby-relay", PlayerName: "", SaveState: []byte("x")},
		{SessionID: "ruby-relay", PlayerName: "小霞", SaveState: nil},
		{SessionID: "ruby-relay", PlayerName: "小霞", SaveState: []byte("x"), Money: -1},
		{SessionID: "ruby-relay", PlayerName: "小霞", SaveState: []byte("x"), BadgeCount: -1},
		{SessionID: "", PlayerName: "小霞", SaveState: []byte("x")},
	}
	for i, req := range cases {
		_, err := suite.ledger.CommitTurn(ctx, req)
		assert.Error(suite.T(), err, "用例 %d 应当被拒绝", i)
		assert.True(suite.T(), apperrors.Is(err, apperrors.ErrInvalidParam))
	}
}

// TestCommitSizeLimits 测试存档与留言上限
func (suite *LedgerServiceTestSuite) TestCommitSizeLimits() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	cfg := DefaultConfig()
	cfg.MaxSaveStateSize = 8
	cfg.MaxMessageLength = 4
	small := NewLedgerService(suite.manager, suite.blobs, cfg, zap.NewNop(), nil)

	_, err := small.CommitTurn(ctx, &CommitTurnRequest{
		SessionID:  "ruby-relay",
		PlayerName: "小霞",
		SaveState:  []byte("123456789"),
	})
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrInvalidParam))

	// 留言按字符数而不是字节数计
	_, err = small.CommitTurn(ctx, &CommitTurnRequest{
		SessionID:  "ruby-relay",
		PlayerName: "小霞",
		Message:    "四个字刚好",
		SaveState:  []byte("12345678"),
	})
	assert.Error(suite.T(), err)

	_, err = small.CommitTurn(ctx, &CommitTurnRequest{
		SessionID:  "ruby-relay",
		PlayerName: "小霞",
		Message:    "四字留言",
		SaveState:  []byte("12345678"),
	})
	assert.NoError(suite.T(), err)
}

// TestGetHeadFollowsCommits 测试头回合跟随提交前进
func (suite *LedgerServiceTestSuite) TestGetHeadFollowsCommits() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	suite.commitTurn("ruby-relay", "小霞", []byte("save-1"))
	suite.commitTurn("ruby-relay", "小刚", []byte("save-2"))
	third := suite.commitTurn("ruby-relay", "小茂", []byte("save-3"))

	head, err := suite.ledger.GetHead(ctx, "ruby-relay")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), third.ID, head.ID)
}

// TestGetHeadEmptyLedger 测试空时间线
func (suite *LedgerServiceTestSuite) TestGetHeadEmptyLedger() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	_, err := suite.ledger.GetHead(ctx, "ruby-relay")
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrTurnNotFound))
}

// TestRestoreInvalidatesLaterTurns 测试回溯作废后续回合
func (suite *LedgerServiceTestSuite) TestRestoreInvalidatesLaterTurns() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	first := suite.commitTurn("ruby-relay", "小霞", []byte("save-1"))
	second := suite.commitTurn("ruby-relay", "小刚", []byte("save-2"))
	third := suite.commitTurn("ruby-relay", "小茂", []byte("save-3"))

	result, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: first.ID,
		Operator:     "admin",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), result.InvalidatedCount)
	assert.Equal(suite.T(), first.ID, result.Head.ID)

	// 头回合退回目标
	head, err := suite.ledger.GetHead(ctx, "ruby-relay")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), first.ID, head.ID)

	// 会话当前存档回退
	session, err := suite.sessions.GetByID(ctx, "ruby-relay")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), first.SaveStateKey, *session.CurrentSaveStateKey)

	// 后续回合全部作废，归因指向目标
	for _, id := range []string{second.ID, third.ID} {
		turn, err := suite.ledger.GetTurn(ctx, id)
		assert.NoError(suite.T(), err)
		assert.True(suite.T(), turn.IsInvalidated())
		assert.Equal(suite.T(), first.ID, *turn.InvalidatedByRestoreToTurnID)
	}

	// 默认列表只含有效回合，完整列表三条俱在
	active, total, err := suite.ledger.ListTurns(ctx, "ruby-relay", false, 1, 10)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), total)
	assert.Len(suite.T(), active, 1)

	all, total, err := suite.ledger.ListTurns(ctx, "ruby-relay", true, 1, 10)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(3), total)
	assert.Len(suite.T(), all, 3)

	// 回溯落一条审计
	var logs []*models.OperationLog
	err = suite.db.Where("action = ?", models.OperationActionRestore).Find(&logs).Error
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), logs, 1)
	assert.Equal(suite.T(), first.ID, logs[0].EntityID)
	assert.EqualValues(suite.T(), 2, logs[0].Details["invalidated_count"])
}

// TestRestoreToHeadIsNoOp 测试回溯到当前头
func (suite *LedgerServiceTestSuite) TestRestoreToHeadIsNoOp() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	suite.commitTurn("ruby-relay", "小霞", []byte("save-1"))
	head := suite.commitTurn("ruby-relay", "小刚", []byte("save-2"))

	result, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: head.ID,
		Operator:     "admin",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), result.InvalidatedCount)
	assert.Equal(suite.T(), head.ID, result.Head.ID)

	// 无操作不写审计
	var count int64
	suite.db.Model(&models.OperationLog{}).Where("action = ?", models.OperationActionRestore).Count(&count)
	assert.Equal(suite.T(), int64(0), count)
}

// TestRestoreToInvalidatedTarget 测试回溯到已作废回合
func (suite *LedgerServiceTestSuite) TestRestoreToInvalidatedTarget() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	first := suite.commitTurn("ruby-relay", "小霞", []byte("save-1"))
	second := suite.commitTurn("ruby-relay", "小刚", []byte("save-2"))

	_, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: first.ID,
		Operator:     "admin",
	})
	require.NoError(suite.T(), err)

	// second 已作废，不能作为回溯目标
	_, err = suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: second.ID,
		Operator:     "admin",
	})
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrRestoreInvalidated))
}

// TestRestoreCrossSessionTarget 测试跨会话回溯
func (suite *LedgerServiceTestSuite) TestRestoreCrossSessionTarget() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")
	suite.activeSession("sapphire-relay")

	other := suite.commitTurn("sapphire-relay", "小遥", []byte("save-x"))

	_, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: other.ID,
		Operator:     "admin",
	})
	assert.Error(suite.T(), err)
	// 跨会话目标按不存在处理
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrTurnSessionMismatch))
	assert.True(suite.T(), apperrors.IsNotFound(err))
}

// TestCommitAfterRestore 测试回溯后继续提交
func (suite *LedgerServiceTestSuite) TestCommitAfterRestore() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	first := suite.commitTurn("ruby-relay", "小霞", []byte("save-1"))
	second := suite.commitTurn("ruby-relay", "小刚", []byte("save-2"))

	_, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: first.ID,
		Operator:     "admin",
	})
	require.NoError(suite.T(), err)

	// 时间线从目标处分叉继续
	replacement := suite.commitTurn("ruby-relay", "小智", []byte("save-3"))

	head, err := suite.ledger.GetHead(ctx, "ruby-relay")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), replacement.ID, head.ID)

	active, total, err := suite.ledger.ListTurns(ctx, "ruby-relay", false, 1, 10)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), total)
	assert.Len(suite.T(), active, 2)

	// 再次回溯到first只作废新分支
	result, err := suite.ledger.RestoreTo(ctx, &RestoreRequest{
		SessionID:    "ruby-relay",
		TargetTurnID: first.ID,
		Operator:     "admin",
	})
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), result.InvalidatedCount)

	// 第一次作废的归因保持不变
	turn, err := suite.ledger.GetTurn(ctx, second.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), first.ID, *turn.InvalidatedByRestoreToTurnID)
}

// TestGetSaveStateUnknownTurn 测试下载不存在回合的存档
func (suite *LedgerServiceTestSuite) TestGetSaveStateUnknownTurn() {
	ctx := context.Background()

	_, _, err := suite.ledger.GetSaveState(ctx, "no-such-turn")
	assert.Error(suite.T(), err)
	assert.True(suite.T(), apperrors.Is(err, apperrors.ErrTurnNotFound))
}

// TestCommitIdenticalPayloadTwice 测试相同存档重复提交
func (suite *LedgerServiceTestSuite) TestCommitIdenticalPayloadTwice() {
	ctx := context.Background()
	suite.activeSession("ruby-relay")

	payload := []byte("identical savestate")
	first := suite.commitTurn("ruby-relay", "小霞", payload)
	second := suite.commitTurn("ruby-relay", "小刚", payload)

	// 内容寻址：两个回合共享同一个存档键
	assert.Equal(suite.T(), first.SaveStateKey, second.SaveStateKey)
	assert.NotEqual(suite.T(), first.ID, second.ID)

	data, _, err := suite.ledger.GetSaveState(ctx, second.ID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), payload, data)
}

// TestRunLedgerServiceTestSuite 运行测试套件
func TestRunLedgerServiceTestSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceTestSuite))
}
