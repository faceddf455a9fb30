package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/model"
	"github.com/ashwinyue/family-health/internal/service/file"
)

// manifest 归档清单
type manifest struct {
	JobID                string    `json:"job_id"`
	MemberScope          string    `json:"member_scope"`
	ExportTypes          []string  `json:"export_types"`
	IncludeRawFile       bool      `json:"include_raw_file"`
	IncludeSanitizedText bool      `json:"include_sanitized_text"`
	ItemCount            int       `json:"item_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// Process 执行导出任务：收集条目、写入归档并更新状态
func (s *Service) Process(ctx context.Context, jobID string) error {
	job, err := s.repo.Export.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if job.Status == model.ExportDone {
		return nil
	}
	job.Status = model.ExportProcessing
	if err := s.repo.Export.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save export job: %w", err)
	}

	key, err := s.build(ctx, job)
	if err != nil {
		job.Status = model.ExportFailed
		job.ErrorMessage = err.Error()
		if saveErr := s.repo.Export.SaveJob(ctx, job); saveErr != nil {
			s.log.Warn("save failed export job", zap.String("job_id", job.ID), zap.Error(saveErr))
		}
		return err
	}

	job.Status = model.ExportDone
	job.ArchivePath = key
	job.ErrorMessage = ""
	if err := s.repo.Export.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("save export job: %w", err)
	}
	s.log.Info("export job done", zap.String("job_id", job.ID), zap.String("archive", key))
	return nil
}

// collect 按任务筛选条件收集用户自己的条目
func (s *Service) collect(ctx context.Context, job *model.ExportJob) ([]*model.ExportItem, error) {
	f := filtersFromJSON(job.Filters)
	var items []*model.ExportItem
	for _, t := range job.ExportTypes {
		switch t {
		case model.ExportTypeChat:
			msgs, err := s.repo.Chat.RecentUserMessages(ctx, job.CreatedBy, f.SessionIDs, f.MessageIDs, f.chatLimit())
			if err != nil {
				return nil, err
			}
			for _, m := range msgs {
				items = append(items, &model.ExportItem{
					JobID:    job.ID,
					ItemType: ItemChatMessage,
					ItemID:   m.ID,
					Meta: model.JSON{
						"session_id": m.SessionID,
						"role":       m.Role,
						"content":    m.Content,
						"created_at": m.CreatedAt,
					},
				})
			}
		case model.ExportTypeKB:
			docs, err := s.repo.Knowledge.ListDocumentsForUser(ctx, job.CreatedBy, f.KBIDs, f.DocIDs)
			if err != nil {
				return nil, err
			}
			for _, d := range docs {
				if d.MaskedPath == "" {
					continue
				}
				items = append(items, &model.ExportItem{
					JobID:         job.ID,
					ItemType:      ItemKBDocument,
					ItemID:        d.ID,
					SourcePath:    d.SourcePath,
					SanitizedPath: d.MaskedPath,
					Meta: model.JSON{
						"kb_id":   d.KBID,
						"kb_name": d.KBName,
						"title":   d.Title,
						"status":  d.Status,
					},
				})
			}
		}
	}
	return items, nil
}

func (s *Service) build(ctx context.Context, job *model.ExportJob) (string, error) {
	items, err := s.collect(ctx, job)
	if err != nil {
		return "", fmt.Errorf("collect items: %w", err)
	}
	// 重新入队的任务先清掉上一次写入的条目
	if err := s.repo.Export.DeleteItems(ctx, job.ID); err != nil {
		return "", fmt.Errorf("reset items: %w", err)
	}
	if err := s.repo.Export.CreateItems(ctx, items); err != nil {
		return "", fmt.Errorf("save items: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeJSON(zw, "manifest.json", manifest{
		JobID:                job.ID,
		MemberScope:          job.MemberScope,
		ExportTypes:          job.ExportTypes,
		IncludeRawFile:       job.IncludeRawFile,
		IncludeSanitizedText: job.IncludeSanitizedText,
		ItemCount:            len(items),
		CreatedAt:            job.CreatedAt,
	}); err != nil {
		return "", err
	}

	names := make(map[string]bool)
	for _, it := range items {
		switch it.ItemType {
		case ItemChatMessage:
			if err := writeJSON(zw, "chat/"+it.ItemID+".json", it.Meta); err != nil {
				return "", err
			}
		case ItemKBDocument:
			if job.IncludeSanitizedText {
				if err := s.copyObject(ctx, zw, uniqueName(names, "kb/", it.SanitizedPath, it.ItemID), it.SanitizedPath); err != nil {
					return "", err
				}
			}
			if job.IncludeRawFile && it.SourcePath != "" {
				if err := s.copyObject(ctx, zw, uniqueName(names, "raw/", it.SourcePath, it.ItemID), it.SourcePath); err != nil {
					return "", err
				}
			}
		}
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	key := s.paths.SanitizedPath("exports", job.ID+".zip")
	if err := file.PutBytes(ctx, s.storage, key, buf.Bytes(), "application/zip"); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	return key, nil
}

// copyObject 写入存储中的文件，文件已被删除时跳过
func (s *Service) copyObject(ctx context.Context, zw *zip.Writer, name, key string) error {
	data, err := file.ReadAll(ctx, s.storage, key)
	if errors.Is(err, file.ErrNotFound) {
		s.log.Warn("export source missing", zap.String("key", key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func uniqueName(seen map[string]bool, dir, key, id string) string {
	name := dir + path.Base(key)
	if seen[name] {
		name = dir + id + "_" + path.Base(key)
	}
	seen[name] = true
	return name
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
