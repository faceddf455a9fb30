package chat

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
)

// FormatMarkdown 唯一支持的导出格式
const FormatMarkdown = "md"

var roleTitles = map[string]string{
	model.MessageRoleUser:      "User",
	model.MessageRoleAssistant: "Assistant",
	model.MessageRoleSystem:    "System",
}

// ExportMarkdown 导出单个会话为 Markdown
func (s *Service) ExportMarkdown(ctx context.Context, userID, id, format string, includeReasoning bool) ([]byte, error) {
	sess, err := s.GetSession(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if format != "" && format != FormatMarkdown {
		return nil, apperr.ErrUnsupportedFormat
	}
	msgs, err := s.repo.Chat.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return renderMarkdown(sess, msgs, includeReasoning), nil
}

// BulkExportZip 将多个会话打包为 zip，每个会话一个 <session_id>.md
// 不存在或无权访问的会话被跳过
func (s *Service) BulkExportZip(ctx context.Context, userID string, ids []string, includeReasoning bool) ([]byte, error) {
	if len(ids) == 0 {
		return nil, apperr.ErrNoSessionsSelected
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, id := range ids {
		sess, err := s.GetSession(ctx, userID, id)
		if err != nil {
			s.log.Debug("skip session in bulk export", zap.String("session_id", id), zap.Error(err))
			continue
		}
		msgs, err := s.repo.Chat.ListMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(sess.ID + ".md")
		if err != nil {
			return nil, fmt.Errorf("zip entry: %w", err)
		}
		if _, err := w.Write(renderMarkdown(sess, msgs, includeReasoning)); err != nil {
			return nil, fmt.Errorf("zip write: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}

func renderMarkdown(sess *model.ChatSession, msgs []*model.ChatMessage, includeReasoning bool) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	fmt.Fprintf(&b, "- Session ID: %s\n", sess.ID)
	fmt.Fprintf(&b, "- Created At: %s\n", sess.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Updated At: %s\n", sess.UpdatedAt.UTC().Format(time.RFC3339))
	if sess.Summary != "" {
		fmt.Fprintf(&b, "- Summary: %s\n", sess.Summary)
	}
	b.WriteString("\n")

	for _, m := range msgs {
		title := roleTitles[m.Role]
		if title == "" {
			title = m.Role
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", title, m.CreatedAt.UTC().Format(time.RFC3339))
		b.WriteString(m.Content)
		b.WriteString("\n\n")
		if includeReasoning && m.ReasoningContent != "" {
			b.WriteString("<details><summary>Reasoning</summary>\n\n")
			b.WriteString(m.ReasoningContent)
			b.WriteString("\n\n</details>\n\n")
		}
	}
	return []byte(b.String())
}
