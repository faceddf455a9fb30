package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
)

// backfill 旧库升级后新增列的默认值
// AutoMigrate 只负责加列，已有行需要补齐
var backfill = []struct {
	table string
	set   string
	where string
}{
	{"chat_sessions", "title = 'New Chat'", "title IS NULL OR title = ''"},
	{"chat_sessions", "show_reasoning = true", "show_reasoning IS NULL"},
	{"chat_sessions", "context_message_limit = 20", "context_message_limit IS NULL OR context_message_limit = 0"},
	{"chat_sessions", "archived = false", "archived IS NULL"},
	{"knowledge_bases", "member_scope = 'global'", "member_scope IS NULL OR member_scope = ''"},
	{"knowledge_bases", "retrieval_strategy = 'hybrid'", "retrieval_strategy IS NULL OR retrieval_strategy = ''"},
	{"knowledge_bases", "status = 'draft'", "status IS NULL OR status = ''"},
	{"desensitization_rules", "member_scope = 'global'", "member_scope IS NULL OR member_scope = ''"},
	{"mcp_servers", "auth_type = 'none'", "auth_type IS NULL OR auth_type = ''"},
	{"mcp_servers", "timeout_ms = 8000", "timeout_ms IS NULL OR timeout_ms = 0"},
	{"kb_documents", "source_type = 'manual'", "source_type IS NULL OR source_type = ''"},
}

// Migrate 自动迁移并补齐默认值
func Migrate(db *gorm.DB, log *zap.Logger) error {
	log = logger.OrNop(log)
	if err := db.AutoMigrate(model.AllModels...); err != nil {
		return err
	}
	for _, b := range backfill {
		res := db.Exec(fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.table, b.set, b.where))
		if res.Error != nil {
			return fmt.Errorf("backfill %s: %w", b.table, res.Error)
		}
		if res.RowsAffected > 0 {
			log.Info("backfilled legacy rows", zap.String("table", b.table), zap.Int64("rows", res.RowsAffected))
		}
	}
	return nil
}
