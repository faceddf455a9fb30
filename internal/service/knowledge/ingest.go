package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/extract"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/file"
	"github.com/ashwinyue/family-health/internal/service/registry"
)

// BuildDocument 手动构建的文档
type BuildDocument struct {
	Title   string `json:"title" binding:"max=120"`
	Content string `json:"content" binding:"required,min=1"`
}

// BuildRequest 构建请求
type BuildRequest struct {
	Documents []BuildDocument `json:"documents" binding:"dive"`
}

// BuildResult 构建结果
type BuildResult struct {
	Documents int64  `json:"documents"`
	Chunks    int    `json:"chunks"`
	Status    string `json:"status"`
}

// IngestResult 单个文档入库结果
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Status     string `json:"status"`
}

// IngestInput 入库参数
type IngestInput struct {
	Title      string
	Content    string
	SourceType string
	SourcePath string
	FileName   string
}

var separators = []string{"\n\n", "\n", "。", "！", "？", ". ", "! ", "? ", "；", "，", ", ", " ", ""}

// Build 手动构建知识库，clearExisting 为 true 时先清空已有文档
func (s *Service) Build(ctx context.Context, userID, kbID string, req *BuildRequest, clearExisting bool) (*BuildResult, error) {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Knowledge.UpdateKBStatus(ctx, kb.ID, model.KBStatusBuilding); err != nil {
		return nil, err
	}

	if clearExisting {
		docs, err := s.repo.Knowledge.ListDocuments(ctx, kb.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			s.removeFiles(ctx, d)
		}
		if err := s.repo.Knowledge.ClearKB(ctx, kb.ID); err != nil {
			return nil, fmt.Errorf("clear kb: %w", err)
		}
	}

	embedder := s.embedderFor(ctx, kb)
	total, err := s.reprocessPending(ctx, kb, embedder)
	if err != nil {
		return nil, err
	}
	for _, d := range req.Documents {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			title = "doc"
		}
		// 手动文档同样保留原文，失败后可以重试
		rawKey := s.paths.RawVaultPath("knowledge_bases", kb.ID, model.NewID()+"_"+extract.SafeName(title)+".txt")
		if err := file.PutBytes(ctx, s.storage, rawKey, []byte(d.Content), "text/plain; charset=utf-8"); err != nil {
			return nil, fmt.Errorf("store raw text: %w", err)
		}
		res, err := s.ingest(ctx, kb, embedder, &IngestInput{Title: title, Content: d.Content, SourceType: SourceManual, SourcePath: rawKey})
		if err != nil && res == nil {
			return nil, err
		}
		total += res.Chunks
	}

	if err := s.refreshStatus(ctx, kb); err != nil {
		return nil, err
	}
	stats, err := s.repo.Knowledge.Stats(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	return &BuildResult{Documents: stats.Documents, Chunks: total, Status: kb.Status}, nil
}

// Upload 上传文件：原文件写入原始区，提取文本后入库
func (s *Service) Upload(ctx context.Context, userID, kbID, fileName, contentType string, data []byte) (*IngestResult, error) {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	if fileName == "" {
		fileName = "document.txt"
	}
	rawKey := s.paths.RawVaultPath("knowledge_bases", kb.ID, model.NewID()+"_"+extract.SafeName(fileName))
	if err := file.PutBytes(ctx, s.storage, rawKey, data, contentType); err != nil {
		return nil, fmt.Errorf("store raw file: %w", err)
	}
	text, err := s.extractor.Extract(ctx, fileName, data)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	return s.IngestText(ctx, userID, kb.ID, &IngestInput{
		Title:      fileName,
		Content:    text,
		SourceType: SourceUpload,
		SourcePath: rawKey,
		FileName:   fileName,
	})
}

// IngestText 将一段文本脱敏后写入知识库，聊天附件也走这里
// 脱敏失败时文档记为 error，同时返回该错误
func (s *Service) IngestText(ctx context.Context, userID, kbID string, in *IngestInput) (*IngestResult, error) {
	kb, err := s.Get(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, apperr.ErrEmptyDocument
	}
	res, ingestErr := s.ingest(ctx, kb, s.embedderFor(ctx, kb), in)
	if res == nil {
		return nil, ingestErr
	}
	if err := s.refreshStatus(ctx, kb); err != nil {
		return nil, err
	}
	return res, ingestErr
}

// ingest 处理单个文档：脱敏、写脱敏文本、分块、向量化
// 返回 nil 结果表示数据库错误，此时文档状态未知
func (s *Service) ingest(ctx context.Context, kb *model.KnowledgeBase, embedder embedding.Embedder, in *IngestInput) (*IngestResult, error) {
	doc := &model.KBDocument{
		KBID:       kb.ID,
		MemberID:   kb.UserID,
		Title:      in.Title,
		FileName:   in.FileName,
		SourceType: in.SourceType,
		SourcePath: in.SourcePath,
		Status:     model.DocProcessing,
	}
	if err := s.repo.Knowledge.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	res := &IngestResult{DocumentID: doc.ID}

	chunks, err := s.process(ctx, kb, doc, embedder, in.Content)
	if err != nil {
		doc.Status = model.DocError
		doc.ErrorMessage = errorMessage(err)
		s.log.Warn("document ingest failed",
			zap.String("kb_id", kb.ID), zap.String("document_id", doc.ID), zap.Error(err))
	} else {
		doc.Status = model.DocIndexed
		doc.ChunkCount = chunks
		res.Chunks = chunks
	}
	if saveErr := s.repo.Knowledge.SaveDocument(ctx, doc); saveErr != nil {
		return nil, fmt.Errorf("save document: %w", saveErr)
	}
	res.Status = doc.Status
	return res, err
}

// reprocessPending 从原始区重新提取待处理文档并入库，返回新增分块数
// 原文缺失的文档重新标记为 error
func (s *Service) reprocessPending(ctx context.Context, kb *model.KnowledgeBase, embedder embedding.Embedder) (int, error) {
	docs, err := s.repo.Knowledge.ListDocumentsByStatus(ctx, kb.ID, model.DocPending)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, doc := range docs {
		doc.Status = model.DocProcessing
		if err := s.repo.Knowledge.SaveDocument(ctx, doc); err != nil {
			return total, fmt.Errorf("save document: %w", err)
		}
		chunks, err := s.reprocess(ctx, kb, doc, embedder)
		if err != nil {
			doc.Status = model.DocError
			doc.ErrorMessage = errorMessage(err)
			s.log.Warn("document retry failed",
				zap.String("kb_id", kb.ID), zap.String("document_id", doc.ID), zap.Error(err))
		} else {
			doc.Status = model.DocIndexed
			doc.ErrorMessage = ""
			doc.ChunkCount = chunks
			total += chunks
		}
		if err := s.repo.Knowledge.SaveDocument(ctx, doc); err != nil {
			return total, fmt.Errorf("save document: %w", err)
		}
	}
	return total, nil
}

func (s *Service) reprocess(ctx context.Context, kb *model.KnowledgeBase, doc *model.KBDocument, embedder embedding.Embedder) (int, error) {
	if doc.SourcePath == "" {
		return 0, apperr.ErrSourceMissing
	}
	data, err := file.ReadAll(ctx, s.storage, doc.SourcePath)
	if errors.Is(err, file.ErrNotFound) {
		return 0, apperr.ErrSourceMissing
	}
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}
	name := doc.FileName
	if name == "" {
		name = path.Base(doc.SourcePath)
	}
	text, err := s.extractor.Extract(ctx, name, data)
	if err != nil {
		return 0, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return 0, apperr.ErrEmptyDocument
	}
	return s.process(ctx, kb, doc, embedder, text)
}

func errorMessage(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}

func (s *Service) process(ctx context.Context, kb *model.KnowledgeBase, doc *model.KBDocument, embedder embedding.Embedder, content string) (int, error) {
	sanitized, err := s.sanitizer.Sanitize(ctx, kb.UserID, kb.MemberScope, content)
	if err != nil {
		return 0, err
	}

	maskedKey := s.paths.SanitizedPath("knowledge_bases", kb.ID, doc.ID+"_"+extract.SafeName(doc.Title)+".md")
	if err := file.PutBytes(ctx, s.storage, maskedKey, []byte(sanitized.Text), "text/markdown; charset=utf-8"); err != nil {
		return 0, fmt.Errorf("store masked text: %w", err)
	}
	doc.MaskedPath = maskedKey

	texts, err := Split(ctx, sanitized.Text, kb.ChunkSize, kb.ChunkOverlap)
	if err != nil {
		return 0, err
	}

	vectors := s.embed(ctx, embedder, kb, texts)
	chunks := make([]*model.KBChunk, 0, len(texts))
	for i, t := range texts {
		c := &model.KBChunk{
			KBID:       kb.ID,
			DocumentID: doc.ID,
			MemberID:   kb.UserID,
			ChunkText:  t,
			ChunkOrder: i,
			TokenCount: max(utf8.RuneCountInString(t)/4, 1),
		}
		if vectors != nil {
			c.Embedding = vectors[i]
		}
		chunks = append(chunks, c)
	}
	if err := s.repo.Knowledge.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}
	return len(chunks), nil
}

// Split 按知识库分块参数递归切分，长度以 rune 计
func Split(ctx context.Context, text string, chunkSize, overlap int) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	splitter, err := recursive.NewSplitter(ctx, &recursive.Config{
		ChunkSize:   chunkSize,
		OverlapSize: overlap,
		Separators:  separators,
		LenFunc:     utf8.RuneCountInString,
		KeepType:    recursive.KeepTypeEnd,
	})
	if err != nil {
		return nil, fmt.Errorf("create splitter: %w", err)
	}
	docs, err := splitter.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) != "" {
			out = append(out, d.Content)
		}
	}
	return out, nil
}

// embedderFor 解析知识库生效的 Embedding 模型，未配置时返回 nil
func (s *Service) embedderFor(ctx context.Context, kb *model.KnowledgeBase) embedding.Embedder {
	modelID := kb.EmbeddingModelID
	if modelID == "" && kb.UseGlobalDefaults {
		if p, err := s.models.DefaultProfile(ctx, kb.UserID); err == nil && p != nil {
			modelID = p.EmbeddingModelID
		}
	}
	if modelID == "" {
		return nil
	}
	e, err := s.models.ResolveEmbedder(ctx, kb.UserID, modelID)
	if err != nil {
		if !errors.Is(err, registry.ErrNotConfigured) {
			s.log.Warn("resolve embedder failed, chunks stay unvectored",
				zap.String("kb_id", kb.ID), zap.String("model_id", modelID), zap.Error(err))
		}
		return nil
	}
	return e
}

// embed 失败时返回 nil，分块保持未向量化
func (s *Service) embed(ctx context.Context, embedder embedding.Embedder, kb *model.KnowledgeBase, texts []string) []model.Vector {
	if embedder == nil || len(texts) == 0 {
		return nil
	}
	raw, err := embedder.EmbedStrings(ctx, texts)
	if err == nil && len(raw) != len(texts) {
		err = fmt.Errorf("vector count mismatch: expected %d, got %d", len(texts), len(raw))
	}
	if err != nil {
		s.log.Warn("embedding failed, chunks stay unvectored", zap.String("kb_id", kb.ID), zap.Error(err))
		return nil
	}
	out := make([]model.Vector, len(raw))
	for i, v := range raw {
		out[i] = toVector(v)
	}
	return out
}

func toVector(v []float64) model.Vector {
	out := make(model.Vector, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
