package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8000", cfg.Server.GetAddr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTTL())
	assert.Equal(t, 5, cfg.Auth.LoginLockMaxAttempts)
	assert.Equal(t, 12, cfg.Chat.ContextMessageLimit)
	assert.Equal(t, 3, cfg.MCP.MaxParallelTools)
	assert.Equal(t, 8*time.Second, cfg.MCP.ToolTimeout())
	assert.Equal(t, 15*time.Second, cfg.MCP.TotalBudget())
	assert.Equal(t, "raw_vault/chat_attachments/s1", cfg.Storage.RawVaultPath("chat_attachments", "s1"))
	assert.Equal(t, DefaultSQLitePath, cfg.Database.GetDSN())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FH_SERVER_PORT", "9100")
	t.Setenv("FH_AUTH_LOGINLOCKMAXATTEMPTS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Auth.LoginLockMaxAttempts)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: postgres\n  host: db\n  dbname: fh\nmcp:\n  maxParallelTools: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.GetDSN(), "host=db")
	assert.Contains(t, cfg.Database.GetDSN(), "dbname=fh")
	assert.Equal(t, 5, cfg.MCP.MaxParallelTools)
}

func TestPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("FH_DATABASE_DRIVER", "postgres")
	t.Setenv("FH_DATABASE_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)
	dsn := cfg.Database.GetDSN()
	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "dbname=family_health")
	assert.NotContains(t, dsn, DefaultSQLitePath)
}

func TestExplicitDSNWins(t *testing.T) {
	t.Setenv("FH_DATABASE_DRIVER", "postgres")
	t.Setenv("FH_DATABASE_DSN", "postgres://u:p@pg:5432/fh")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@pg:5432/fh", cfg.Database.GetDSN())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("FH_DATABASE_DRIVER", "mysql")
	_, err := Load("")
	assert.Error(t, err)
}
