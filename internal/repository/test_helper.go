package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/retro-relay/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// 清理所有表数据（保留表结构）
	// 注意：清理顺序很重要，先清理有外键依赖的表
	tables := []interface{}{
		&models.GameStateSnapshot{},
		&models.GameTurn{},
		&models.KioskRegistration{},
		&models.OperationLog{},
		&models.GameSession{},
		&models.Operator{},
	}

	for _, table := range tables {
		db.Unscoped().Where("1 = 1").Delete(table)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		// 会话与准入
		&models.GameSession{},
		&models.KioskRegistration{},

		// 回合账本
		&models.GameTurn{},
		&models.GameStateSnapshot{},

		// 运营后台
		&models.Operator{},
		&models.OperationLog{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	// 关闭数据库连接
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// TestDB 创建测试数据库
func TestDB(t *testing.T) *gorm.DB {
	// 使用实际的SQLite文件进行测试
	require.NoError(t, os.MkdirAll("../../data", 0o755))
	db, err := gorm.Open(sqlite.Open("../../data/retro-relay-test.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	// 清理所有表数据（保留表结构）
	tables := []interface{}{
		&models.GameStateSnapshot{},
		&models.GameTurn{},
		&models.KioskRegistration{},
		&models.OperationLog{},
		&models.GameSession{},
		&models.Operator{},
	}

	for _, table := range tables {
		db.Unscoped().Where("1 = 1").Delete(table)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.GameSession{},
		&models.KioskRegistration{},
		&models.GameTurn{},
		&models.GameStateSnapshot{},
		&models.Operator{},
		&models.OperationLog{},
	)
	require.NoError(t, err)

	return db
}

// SeedTestData 创建测试数据
func SeedTestData(t *testing.T, db *gorm.DB) {
	// 创建测试会话
	sessions := []models.GameSession{
		{
			SessionID:      "session-emerald",
			Name:           "翡翠接力",
			Code:           "111111",
			IsActive:       true,
			LastActivityAt: time.Now(),
		},
		{
			SessionID:      "session-crystal",
			Name:           "水晶接力",
			Code:           "222222",
			IsActive:       false,
			LastActivityAt: time.Now().Add(-2 * time.Hour),
		},
	}
	err := db.Create(&sessions).Error
	require.NoError(t, err)

	// 创建测试回合
	base := time.Now().Add(-1 * time.Hour)
	turns := []models.GameTurn{
		{
			SessionID:    "session-emerald",
			PlayerName:   "小樱",
			Location:     "真新镇",
			TurnEndedAt:  base,
			SaveStateKey: "aaaa000000000000000000000000000000000000000000000000000000000001",
		},
		{
			SessionID:    "session-emerald",
			PlayerName:   "小刚",
			Location:     "常磐森林",
			TurnEndedAt:  base.Add(10 * time.Minute),
			SaveStateKey: "aaaa000000000000000000000000000000000000000000000000000000000002",
		},
	}
	err = db.Create(&turns).Error
	require.NoError(t, err)

	// 创建测试准入申请
	registrations := []models.KioskRegistration{
		{
			SessionCode: "111111",
			KioskName:   "一楼大厅1号机",
			Status:      models.RegistrationStatusPending,
		},
		{
			SessionCode: "111111",
			KioskName:   "二楼2号机",
			Status:      models.RegistrationStatusApproved,
		},
	}
	err = db.Create(&registrations).Error
	require.NoError(t, err)

	// 创建测试运营账号
	operator := models.Operator{
		Username: "test_operator",
		Nickname: "测试运营",
		Password: "$argon2id$v=19$m=65536,t=3,p=2$dGVzdA$dGVzdA",
		Role:     "operator",
		Status:   "active",
	}
	err = db.Create(&operator).Error
	require.NoError(t, err)
}

// AssertGameSession 验证会话
func AssertGameSession(t *testing.T, expected, actual *models.GameSession) {
	assert.Equal(t, expected.SessionID, actual.SessionID)
	assert.Equal(t, expected.Name, actual.Name)
	assert.Equal(t, expected.Code, actual.Code)
	assert.Equal(t, expected.IsActive, actual.IsActive)
}

// CreateTestSession 创建测试会话
func CreateTestSession(sessionID, code string) *models.GameSession {
	return &models.GameSession{
		SessionID:      sessionID,
		Name:           "测试会话 " + sessionID,
		Code:           code,
		IsActive:       false,
		LastActivityAt: time.Now(),
	}
}

// CreateTestTurn 创建测试回合
func CreateTestTurn(sessionID, playerName string, endedAt time.Time) *models.GameTurn {
	return &models.GameTurn{
		SessionID:    sessionID,
		PlayerName:   playerName,
		Location:     "测试位置",
		Money:        3000,
		TurnEndedAt:  endedAt,
		SaveStateKey: fmt.Sprintf("%064x", endedAt.UnixNano()),
	}
}

// CreateTestSnapshot 创建测试快照
func CreateTestSnapshot(turnID, sessionID string, seq int) *models.GameStateSnapshot {
	return &models.GameStateSnapshot{
		GameTurnID:     turnID,
		SessionID:      sessionID,
		SequenceNumber: seq,
		CapturedAt:     time.Now(),
		Location:       "测试位置",
		Money:          3000,
	}
}

// CreateTestRegistration 创建测试准入申请
func CreateTestRegistration(sessionCode, kioskName string) *models.KioskRegistration {
	return &models.KioskRegistration{
		SessionCode: sessionCode,
		KioskName:   kioskName,
		Status:      models.RegistrationStatusPending,
	}
}

// Key64 根据种子生成64位十六进制测试存档键
func Key64(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
