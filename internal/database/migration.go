package database

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/wfunc/retro-relay/internal/logger"
	"github.com/wfunc/retro-relay/internal/models"
	"github.com/wfunc/retro-relay/internal/utils"
	"go.uber.org/zap"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 清理过期锁文件
	CleanupStaleLocks()

	// 获取迁移锁，避免多个进程同时迁移
	dbPath := getDBPath()
	if dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	// 注意：SQLite性能优化已在database.go的Init函数中完成

	// 定义需要迁移的模型
	migrationModels := []interface{}{
		// 会话相关
		&models.GameSession{},

		// 时间线相关
		&models.GameTurn{},
		&models.GameStateSnapshot{},

		// 机台准入相关
		&models.KioskRegistration{},

		// 运营相关
		&models.Operator{},
		&models.OperationLog{},
	}

	// 执行迁移
	logger.Info("开始数据库迁移...")

	// 设置 SQLite 专用配置，避免锁定问题
	if DB.Dialector.Name() == "sqlite" {
		// 禁用外键约束，避免重建表时的问题
		DB.Exec("PRAGMA foreign_keys = OFF")
		defer DB.Exec("PRAGMA foreign_keys = ON")
	}

	for _, model := range migrationModels {
		tableName := getTableName(model)

		// 检查表是否存在且有数据
		if shouldSkipMigration(tableName) {
			logger.Info("跳过大型表的迁移", zap.String("table", tableName))
			continue
		}

		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	// 创建索引
	if err := createIndexes(); err != nil {
		return err
	}

	// 初始化默认数据
	if err := initDefaultData(); err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建数据库索引
func createIndexes() error {
	// 回合排序索引：getHead 和恢复操作都按该元组比较回合先后
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_game_turns_order ON game_turns(session_id, turn_ended_at, created_at, id)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_game_turns_order"), zap.Error(err))
	}

	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_game_turns_session_invalidated ON game_turns(session_id, invalidated_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_game_turns_session_invalidated"), zap.Error(err))
	}

	// 会话表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_game_sessions_last_activity ON game_sessions(last_activity_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_game_sessions_last_activity"), zap.Error(err))
	}

	// 机台注册表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_kiosk_registrations_code_status ON kiosk_registrations(session_code, status)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_kiosk_registrations_code_status"), zap.Error(err))
	}

	// 快照表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_game_state_snapshots_session_captured ON game_state_snapshots(session_id, captured_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_game_state_snapshots_session_captured"), zap.Error(err))
	}

	// 操作日志表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_operation_logs_session_created ON operation_logs(session_id, created_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_operation_logs_session_created"), zap.Error(err))
	}

	logger.Info("数据库索引创建完成")
	return nil
}

// initDefaultData 初始化默认数据
func initDefaultData() error {
	if err := initDefaultOperator(); err != nil {
		return err
	}
	if err := initDemoSession(); err != nil {
		return err
	}

	logger.Info("默认数据初始化完成")
	return nil
}

// initDefaultOperator 首次启动时创建默认管理员
func initDefaultOperator() error {
	var count int64
	DB.Model(&models.Operator{}).Count(&count)
	if count > 0 {
		return nil
	}

	// 创建默认管理员账号（首次启动后请立即修改密码）
	hash, err := utils.HashPassword("admin123")
	if err != nil {
		logger.Error("生成默认管理员密码失败", zap.Error(err))
		return err
	}

	admin := models.Operator{
		Username: "admin",
		Nickname: "系统管理员",
		Password: hash,
		Role:     "admin",
		Status:   "active",
	}

	if err := DB.Create(&admin).Error; err != nil {
		logger.Error("创建默认管理员失败",
			zap.String("username", admin.Username),
			zap.Error(err),
		)
		return err
	}

	logger.Warn("已创建默认管理员账号，请尽快修改初始密码",
		zap.String("username", admin.Username),
	)
	return nil
}

// initDemoSession 首次启动时创建一个停用状态的演示会话
func initDemoSession() error {
	var count int64
	DB.Model(&models.GameSession{}).Count(&count)
	if count > 0 {
		return nil
	}

	// 表为空，单次生成不会撞码
	code, err := utils.GenerateSessionCode()
	if err != nil {
		logger.Error("生成演示会话口令失败", zap.Error(err))
		return err
	}

	demo := models.GameSession{
		SessionID: "demo-relay",
		Name:      "演示接力会话",
		Code:      code,
		IsActive:  false,
	}

	if err := DB.Create(&demo).Error; err != nil {
		logger.Error("创建演示会话失败", zap.Error(err))
		return err
	}

	logger.Info("已创建演示会话，激活后机台即可加入",
		zap.String("session_id", demo.SessionID),
		zap.String("code", code),
	)
	return nil
}

// getTableName 获取模型对应的表名
func getTableName(model interface{}) string {
	// 使用反射获取类型
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	// 尝试调用TableName方法
	if tabler, ok := model.(interface{ TableName() string }); ok {
		return tabler.TableName()
	}

	// 否则使用GORM默认的表名规则
	modelName := t.Name()
	// 转换为蛇形命名并复数化
	tableName := toSnakeCase(modelName) + "s"
	return tableName
}

// toSnakeCase 将驼峰命名转换为蛇形命名
func toSnakeCase(s string) string {
	var result []rune
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result = append(result, '_')
		}
		result = append(result, r)
	}
	return strings.ToLower(string(result))
}

// shouldSkipMigration 检查是否应该跳过迁移
func shouldSkipMigration(tableName string) bool {
	// 快照表只增不改，数据量大时避免AutoMigrate重建表
	if tableName == "game_state_snapshots" {
		var exists int64
		err := DB.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName).Scan(&exists).Error
		if err != nil || exists == 0 {
			return false
		}

		// 检查表中的数据量
		var count int64
		DB.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&count)

		// 如果表存在且数据量超过10000条，跳过迁移
		if count > 10000 {
			logger.Info("表中数据量较大，跳过AutoMigrate",
				zap.String("table", tableName),
				zap.Int64("count", count))

			// 仅添加新的索引，不修改表结构
			ensureIndexesForLargeTable(tableName)
			return true
		}
	}
	return false
}

// ensureIndexesForLargeTable 为大表确保索引存在
func ensureIndexesForLargeTable(tableName string) {
	if tableName == "game_state_snapshots" {
		// 仅创建不存在的索引，避免重建表
		indexes := []string{
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshot_turn_seq ON game_state_snapshots(game_turn_id, sequence_number)",
			"CREATE INDEX IF NOT EXISTS idx_game_state_snapshots_session_id ON game_state_snapshots(session_id)",
			"CREATE INDEX IF NOT EXISTS idx_game_state_snapshots_session_captured ON game_state_snapshots(session_id, captured_at)",
		}

		for _, idx := range indexes {
			if err := DB.Exec(idx).Error; err != nil {
				// 忽略索引已存在的错误
				if !strings.Contains(err.Error(), "already exists") {
					logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
				}
			}
		}
	}
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 获取所有表名
	var tables []string
	if err := DB.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
		return err
	}

	// 删除所有表
	for _, table := range tables {
		if err := DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Error; err != nil {
			logger.Error("删除表失败", zap.String("table", table), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除")
	return nil
}
