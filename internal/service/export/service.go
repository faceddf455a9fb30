// Package export 提供脱敏数据导出任务：后台 worker 打包聊天记录与知识库文档为 zip
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/config"
	"github.com/ashwinyue/family-health/internal/logger"
	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/repository"
	"github.com/ashwinyue/family-health/internal/service/file"
)

// 默认值
const (
	DefaultChatLimit = 200
	maxChatLimit     = 5000
	listLimit        = 100
	previewRunes     = 120
)

// 导出条目类型
const (
	ItemChatMessage = "chat_message"
	ItemKBDocument  = "kb_document"
)

// ErrQueueFull 导出队列已满
var ErrQueueFull = errors.New("export queue is full")

// Filters 导出筛选条件
type Filters struct {
	ChatLimit  int      `json:"chat_limit" form:"chat_limit"`
	SessionIDs []string `json:"session_ids" form:"session_ids"`
	MessageIDs []string `json:"message_ids" form:"message_ids"`
	KBIDs      []string `json:"kb_ids" form:"kb_ids"`
	DocIDs     []string `json:"doc_ids" form:"doc_ids"`
}

func (f Filters) chatLimit() int {
	switch {
	case f.ChatLimit <= 0:
		return DefaultChatLimit
	case f.ChatLimit > maxChatLimit:
		return maxChatLimit
	}
	return f.ChatLimit
}

func (f Filters) toJSON() model.JSON {
	return model.JSON{
		"chat_limit":  f.chatLimit(),
		"session_ids": f.SessionIDs,
		"message_ids": f.MessageIDs,
		"kb_ids":      f.KBIDs,
		"doc_ids":     f.DocIDs,
	}
}

// filtersFromJSON 从任务记录还原筛选条件
func filtersFromJSON(j model.JSON) Filters {
	f := Filters{}
	if v, ok := j["chat_limit"].(float64); ok {
		f.ChatLimit = int(v)
	}
	f.SessionIDs = stringSlice(j["session_ids"])
	f.MessageIDs = stringSlice(j["message_ids"])
	f.KBIDs = stringSlice(j["kb_ids"])
	f.DocIDs = stringSlice(j["doc_ids"])
	return f
}

func stringSlice(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// CreateRequest 创建导出任务
type CreateRequest struct {
	MemberScope          string   `json:"member_scope" binding:"max=36"`
	ExportTypes          []string `json:"export_types"`
	IncludeRawFile       bool     `json:"include_raw_file"`
	IncludeSanitizedText *bool    `json:"include_sanitized_text"`
	Filters              Filters  `json:"filters"`
}

// ChatCandidate 可导出的聊天消息
type ChatCandidate struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

// KBCandidate 可导出的知识库文档
type KBCandidate struct {
	ID         string `json:"id"`
	KBID       string `json:"kb_id"`
	KBName     string `json:"kb_name"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	MaskedPath string `json:"masked_path"`
	SourcePath string `json:"source_path"`
}

// Candidates 可导出内容
type Candidates struct {
	Chat []ChatCandidate `json:"chat_messages"`
	KB   []KBCandidate   `json:"kb_documents"`
}

// Service 导出服务
type Service struct {
	repo    *repository.Repositories
	storage file.Storage
	paths   *config.StorageConfig
	log     *zap.Logger

	workers int
	queue   chan string
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewService 创建导出服务，调用 Start 后才会处理任务
func NewService(repo *repository.Repositories, storage file.Storage, paths *config.StorageConfig, cfg *config.ExportConfig, log *zap.Logger) *Service {
	workers, size := max(cfg.Workers, 1), max(cfg.QueueSize, 1)
	return &Service{
		repo:    repo,
		storage: storage,
		paths:   paths,
		log:     logger.OrNop(log),
		workers: workers,
		queue:   make(chan string, size),
	}
}

// Start 启动 worker，并重新入队未完成的任务
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	ids, err := s.repo.Export.UnfinishedJobIDs(ctx)
	if err != nil {
		s.log.Warn("load unfinished export jobs failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := s.enqueue(id); err != nil {
			s.markFailed(ctx, id, err)
		}
	}
}

// Stop 关闭队列并等待 worker 退出
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.Process(ctx, id); err != nil {
				s.log.Warn("export job failed", zap.Int("worker", n), zap.String("job_id", id), zap.Error(err))
			}
		}
	}
}

func (s *Service) enqueue(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrQueueFull
	}
	select {
	case s.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Candidates 列出可导出的聊天消息与知识库文档
func (s *Service) Candidates(ctx context.Context, userID string, f Filters) (*Candidates, error) {
	msgs, err := s.repo.Chat.RecentUserMessages(ctx, userID, f.SessionIDs, f.MessageIDs, f.chatLimit())
	if err != nil {
		return nil, err
	}
	docs, err := s.repo.Knowledge.ListDocumentsForUser(ctx, userID, f.KBIDs, f.DocIDs)
	if err != nil {
		return nil, err
	}

	out := &Candidates{
		Chat: make([]ChatCandidate, 0, len(msgs)),
		KB:   make([]KBCandidate, 0, len(docs)),
	}
	for _, m := range msgs {
		out.Chat = append(out.Chat, ChatCandidate{
			ID:        m.ID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Preview:   preview(m.Content),
			CreatedAt: m.CreatedAt,
		})
	}
	for _, d := range docs {
		if d.MaskedPath == "" {
			continue
		}
		out.KB = append(out.KB, KBCandidate{
			ID:         d.ID,
			KBID:       d.KBID,
			KBName:     d.KBName,
			Title:      d.Title,
			Status:     d.Status,
			MaskedPath: d.MaskedPath,
			SourcePath: d.SourcePath,
		})
	}
	return out, nil
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= previewRunes {
		return text
	}
	return string(r[:previewRunes])
}

// CreateJob 创建导出任务并入队
func (s *Service) CreateJob(ctx context.Context, userID string, req *CreateRequest) (*model.ExportJob, error) {
	types := make([]string, 0, len(req.ExportTypes))
	seen := make(map[string]bool)
	for _, t := range req.ExportTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != model.ExportTypeChat && t != model.ExportTypeKB {
			return nil, apperr.ErrExportTypes
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	scope := strings.TrimSpace(req.MemberScope)
	if scope == "" {
		scope = model.ScopeGlobal
	}

	job := &model.ExportJob{
		CreatedBy:            userID,
		MemberScope:          scope,
		Filters:              req.Filters.toJSON(),
		ExportTypes:          model.StringList(types),
		IncludeRawFile:       req.IncludeRawFile,
		IncludeSanitizedText: req.IncludeSanitizedText == nil || *req.IncludeSanitizedText,
		Status:               model.ExportPending,
	}
	if err := s.repo.Export.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}
	if err := s.enqueue(job.ID); err != nil {
		s.log.Warn("export job not queued", zap.String("job_id", job.ID), zap.Error(err))
		s.markFailed(ctx, job.ID, err)
		job.Status, job.ErrorMessage = model.ExportFailed, err.Error()
	}
	return job, nil
}

// ListJobs 列出任务，最新在前
func (s *Service) ListJobs(ctx context.Context, userID string) ([]*model.ExportJob, error) {
	return s.repo.Export.ListJobs(ctx, userID, listLimit)
}

// GetJob 获取任务及条目
func (s *Service) GetJob(ctx context.Context, userID, id string) (*model.ExportJob, error) {
	job, err := s.repo.Export.GetJob(ctx, userID, id)
	if repository.IsNotFound(err) {
		return nil, apperr.ErrExportNotFound
	}
	return job, err
}

// DeleteJob 删除任务及归档
func (s *Service) DeleteJob(ctx context.Context, userID, id string) error {
	job, err := s.GetJob(ctx, userID, id)
	if err != nil {
		return err
	}
	if job.ArchivePath != "" {
		if err := s.storage.Delete(ctx, job.ArchivePath); err != nil {
			s.log.Warn("delete export archive failed", zap.String("job_id", id), zap.Error(err))
		}
	}
	return s.repo.Export.DeleteJob(ctx, id)
}

// Download 打开已完成任务的归档，调用方负责关闭
func (s *Service) Download(ctx context.Context, userID, id string) (string, io.ReadCloser, error) {
	job, err := s.GetJob(ctx, userID, id)
	if err != nil {
		return "", nil, err
	}
	if job.Status != model.ExportDone || job.ArchivePath == "" {
		return "", nil, apperr.ErrExportNotReady
	}
	rc, err := s.storage.Get(ctx, job.ArchivePath)
	if errors.Is(err, file.ErrNotFound) {
		return "", nil, apperr.New(apperr.ErrExportNotReady.Code, "Export archive not found")
	}
	if err != nil {
		return "", nil, err
	}
	return job.ID + ".zip", rc, nil
}

func (s *Service) markFailed(ctx context.Context, id string, cause error) {
	job, err := s.repo.Export.GetJobByID(ctx, id)
	if err != nil {
		s.log.Warn("load export job failed", zap.String("job_id", id), zap.Error(err))
		return
	}
	job.Status = model.ExportFailed
	job.ErrorMessage = cause.Error()
	if err := s.repo.Export.SaveJob(ctx, job); err != nil {
		s.log.Warn("save export job failed", zap.String("job_id", id), zap.Error(err))
	}
}
