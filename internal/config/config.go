package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Chat     ChatConfig
	MCP      MCPConfig
	Agent    AgentConfig
	Registry RegistryConfig
	Export   ExportConfig
	Log      LogConfig
	CORS     CORSConfig
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string
	Environment string
	Version     string
	Debug       bool
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string
	Port         int
	Mode         string
	ReadTimeout  int
	WriteTimeout int
}

// DatabaseConfig 数据库配置
// Driver 为 sqlite 时使用 DSN（文件路径），为 postgres 时使用连接参数
type DatabaseConfig struct {
	Driver       string
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig 认证配置
type AuthConfig struct {
	SecretKey                string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int
	LoginLockMaxAttempts     int
	LoginLockMinutes         int
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type                  string
	DataRoot              string
	RawVaultDir           string
	SanitizedWorkspaceDir string
	MinIO                 MinIOConfig
}

// MinIOConfig MinIO 配置
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ChatConfig 聊天配置
type ChatConfig struct {
	ContextMessageLimit int
}

// MCPConfig MCP 工具调用配置
type MCPConfig struct {
	MaxParallelTools int
	ToolTimeoutMs    int
	TotalBudgetMs    int
}

// AgentConfig Agent 配置
type AgentConfig struct {
	RolesDir string
}

// RegistryConfig 模型注册配置
type RegistryConfig struct {
	LiveDiscovery    bool
	DiscoveryTimeout int
}

// ExportConfig 导出任务配置
type ExportConfig struct {
	Workers   int
	QueueSize int
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string
	Format string
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins []string
}

// DefaultSQLitePath sqlite 未配置 dsn 时使用的数据库文件
const DefaultSQLitePath = "./data/family_health.db"

// Load 加载配置
// 优先级：环境变量 > 配置文件 > 默认值。.env 会在读取环境变量前加载
func Load(path string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// 环境变量
	v.SetEnvPrefix("FH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验关键配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SecretKey) == "" {
		return errors.New("auth.secretKey must not be empty")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	return nil
}

// GetDSN 获取数据库连接字符串
// dsn 为空时 sqlite 使用默认文件，postgres 由 host/dbname 等字段拼接
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	if c.Driver == "sqlite" {
		return DefaultSQLitePath
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// GetAddr 获取服务器地址
func (c *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AccessTTL 访问令牌有效期
func (c *AuthConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTTL 刷新令牌有效期
func (c *AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpireDays) * 24 * time.Hour
}

// LockDuration 登录锁定时长
func (c *AuthConfig) LockDuration() time.Duration {
	return time.Duration(c.LoginLockMinutes) * time.Minute
}

// RawVaultPath 原始文件区（相对 DataRoot）
func (c *StorageConfig) RawVaultPath(parts ...string) string {
	return filepath.ToSlash(filepath.Join(append([]string{c.RawVaultDir}, parts...)...))
}

// SanitizedPath 脱敏工作区（相对 DataRoot）
func (c *StorageConfig) SanitizedPath(parts ...string) string {
	return filepath.ToSlash(filepath.Join(append([]string{c.SanitizedWorkspaceDir}, parts...)...))
}

// ToolTimeout 单个 MCP 工具默认超时
func (c *MCPConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMs) * time.Millisecond
}

// TotalBudget MCP 调用总预算
func (c *MCPConfig) TotalBudget() time.Duration {
	return time.Duration(c.TotalBudgetMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "family-health")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.debug", false)

	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0)

	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "family_health")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.maxLifetime", 300)

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.secretKey", "change-me-in-production")
	v.SetDefault("auth.accessTokenExpireMinutes", 15)
	v.SetDefault("auth.refreshTokenExpireDays", 7)
	v.SetDefault("auth.loginLockMaxAttempts", 5)
	v.SetDefault("auth.loginLockMinutes", 15)

	// Storage
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.dataRoot", "./data")
	v.SetDefault("storage.rawVaultDir", "raw_vault")
	v.SetDefault("storage.sanitizedWorkspaceDir", "sanitized_workspace")
	v.SetDefault("storage.minio.bucket", "family-health")

	// Chat / MCP / Agent
	v.SetDefault("chat.contextMessageLimit", 12)
	v.SetDefault("mcp.maxParallelTools", 3)
	v.SetDefault("mcp.toolTimeoutMs", 8000)
	v.SetDefault("mcp.totalBudgetMs", 15000)
	v.SetDefault("agent.rolesDir", "./roles")

	// Registry / Export
	v.SetDefault("registry.liveDiscovery", false)
	v.SetDefault("registry.discoveryTimeout", 10)
	v.SetDefault("export.workers", 2)
	v.SetDefault("export.queueSize", 32)

	// Log / CORS
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("cors.allowedOrigins", []string{"http://127.0.0.1:5173", "http://localhost:5173"})
}
