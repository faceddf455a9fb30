package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/file"
	"github.com/ashwinyue/family-health/internal/service/knowledge"
)

// 附件入库方式
const (
	KBModeContext     = "context"
	KBModeChatDefault = "chat_default"
	KBModeKB          = "kb"
)

// UploadAttachment 上传附件参数
type UploadAttachment struct {
	FileName    string
	ContentType string
	Data        []byte
	KBMode      string
	KBID        string
}

// AddAttachment 保存附件：原文件写入原始区；非图片文件提取、脱敏后写入工作区，
// 按 kb_mode 同时写入知识库
func (s *Service) AddAttachment(ctx context.Context, userID, sessionID string, in *UploadAttachment) (*model.ChatAttachment, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	mode := in.KBMode
	if mode == "" {
		mode = KBModeContext
	}
	switch mode {
	case KBModeContext, KBModeChatDefault:
	case KBModeKB:
		if strings.TrimSpace(in.KBID) == "" {
			return nil, apperr.ErrKBRequired
		}
	default:
		return nil, apperr.ErrInvalidKBMode
	}

	name := in.FileName
	if name == "" {
		name = "attachment.txt"
	}
	att := &model.ChatAttachment{
		ID:          model.NewID(),
		SessionID:   sessionID,
		FileName:    name,
		ContentType: in.ContentType,
		SizeBytes:   int64(len(in.Data)),
		IsImage:     extract.IsImage(in.ContentType, name),
		KBMode:      mode,
		ParseStatus: model.ParseProcessing,
	}
	safe := extract.SafeName(name)
	att.RawPath = s.paths.RawVaultPath("chat_attachments", sessionID, att.ID+"_"+safe)
	if err := file.PutBytes(ctx, s.storage, att.RawPath, in.Data, in.ContentType); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	if err := s.repo.Chat.CreateAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}

	// 图片只保存，不参与文本上下文
	if att.IsImage {
		att.ParseStatus = model.ParseDone
		return att, s.repo.Chat.SaveAttachment(ctx, att)
	}

	if err := s.parseAttachment(ctx, userID, att, in); err != nil {
		att.ParseStatus = model.ParseError
		att.ErrorMessage = errorMessage(err)
		if saveErr := s.repo.Chat.SaveAttachment(ctx, att); saveErr != nil {
			s.log.Error("save attachment status failed", zap.String("attachment_id", att.ID), zap.Error(saveErr))
		}
		if _, ok := apperr.As(err); !ok {
			s.log.Warn("attachment parse failed", zap.String("attachment_id", att.ID), zap.Error(err))
			err = apperr.ErrAttachmentParse
		}
		return att, err
	}
	att.ParseStatus = model.ParseDone
	if err := s.repo.Chat.SaveAttachment(ctx, att); err != nil {
		return nil, fmt.Errorf("save attachment: %w", err)
	}
	return att, nil
}

func (s *Service) parseAttachment(ctx context.Context, userID string, att *model.ChatAttachment, in *UploadAttachment) error {
	text, err := s.extractor.Extract(ctx, att.FileName, in.Data)
	if err != nil {
		return fmt.Errorf("extract attachment: %w", err)
	}
	sanitized, err := s.sanitizer.Sanitize(ctx, userID, model.ScopeGlobal, text)
	if err != nil {
		return err
	}
	att.SanitizedPath = s.paths.SanitizedPath("chat_attachments", att.SessionID, att.ID+"_"+extract.SafeName(att.FileName)+".md")
	if err := file.PutBytes(ctx, s.storage, att.SanitizedPath, []byte(sanitized.Text), "text/markdown; charset=utf-8"); err != nil {
		return fmt.Errorf("store sanitized attachment: %w", err)
	}

	if att.KBMode == KBModeContext {
		return nil
	}
	kbID := in.KBID
	if att.KBMode == KBModeChatDefault {
		kb, err := s.kb.EnsureChatDefaultKB(ctx, userID)
		if err != nil {
			return err
		}
		kbID = kb.ID
	}
	res, err := s.kb.IngestText(ctx, userID, kbID, &knowledge.IngestInput{
		Title:      att.FileName,
		Content:    text,
		SourceType: knowledge.SourceChatAttachment,
		SourcePath: att.RawPath,
		FileName:   att.FileName,
	})
	if err != nil {
		return err
	}
	att.KBID = kbID
	att.KBDocumentID = res.DocumentID
	return nil
}

// AttachmentTexts 读取会话附件的脱敏文本，图片附件不提供文本
func (s *Service) AttachmentTexts(ctx context.Context, userID, sessionID string, ids []string) ([]string, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil, nil
	}
	rows, err := s.repo.Chat.GetAttachments(ctx, sessionID, unique)
	if err != nil {
		return nil, err
	}
	if len(rows) != len(unique) {
		return nil, apperr.ErrAttachmentNotFound
	}
	byID := make(map[string]*model.ChatAttachment, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	var texts []string
	for _, id := range unique {
		a := byID[id]
		if a.IsImage {
			continue
		}
		if a.ParseStatus != model.ParseDone || a.SanitizedPath == "" {
			return nil, apperr.ErrAttachmentNotReady
		}
		data, err := file.ReadAll(ctx, s.storage, a.SanitizedPath)
		if err != nil {
			return nil, apperr.ErrAttachmentNotReady
		}
		texts = append(texts, string(data))
	}
	return texts, nil
}

// ListAttachments 列出会话附件
func (s *Service) ListAttachments(ctx context.Context, userID, sessionID string) ([]*model.ChatAttachment, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.Chat.ListAttachments(ctx, sessionID)
}

func errorMessage(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return "Attachment parse failed"
}
