// Package testutil 提供测试辅助工具
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/crypto"
	"github.com/ashwinyue/family-health/internal/database"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
)

// TestSecret 测试用密钥
const TestSecret = "test-secret-key"

// Config 返回测试配置，数据目录位于临时目录
func Config(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Auth.SecretKey = TestSecret
	cfg.Storage.Type = "local"
	cfg.Storage.DataRoot = t.TempDir()
	cfg.Agent.RolesDir = t.TempDir()
	cfg.Redis.Enabled = false
	cfg.Registry.LiveDiscovery = false
	return cfg
}

// DB 返回独立的内存 sqlite 数据库，已完成迁移
func DB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db, nil))
	return db
}

// Repos 返回基于内存数据库的仓库集合
func Repos(t *testing.T) *repository.Repositories {
	t.Helper()
	return repository.NewRepositories(DB(t))
}

// Box 测试用加密器
func Box(t *testing.T) *crypto.Box {
	t.Helper()
	b, err := crypto.NewBox(TestSecret)
	require.NoError(t, err)
	return b
}

// CreateUser 直接写入一个启用的用户
func CreateUser(t *testing.T, repos *repository.Repositories, username, role string) *model.User {
	t.Helper()
	u := &model.User{
		ID:          model.NewID(),
		Username:    username,
		DisplayName: username,
		Role:        role,
		Status:      model.UserActive,
	}
	require.NoError(t, repos.Auth.CreateUser(context.Background(), u))
	return u
}
