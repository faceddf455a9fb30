package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ChatSession 聊天会话
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	RoleID    string    `json:"role_id"`
	Archived  bool      `json:"archived"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionList 会话分页
type SessionList struct {
	Total int64          `json:"total"`
	Items []*ChatSession `json:"items"`
}

// KnowledgeBase 知识库
type KnowledgeBase struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	MemberScope string `json:"member_scope"`
}

// RetrievalItem 检索结果
type RetrievalItem struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     struct {
		MaskedPath string `json:"masked_path"`
	} `json:"source"`
}

// ExportJob 导出任务
type ExportJob struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	ExportTypes  []string  `json:"export_types"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExportRequest 创建导出任务
type ExportRequest struct {
	MemberScope          string   `json:"member_scope,omitempty"`
	ExportTypes          []string `json:"export_types"`
	IncludeRawFile       bool     `json:"include_raw_file"`
	IncludeSanitizedText *bool    `json:"include_sanitized_text,omitempty"`
}

// Preview 脱敏预览结果
type Preview struct {
	MaskedText string `json:"masked_text"`
}

// AskRequest 问答请求
type AskRequest struct {
	SessionID        string   `json:"session_id"`
	Query            string   `json:"query"`
	KBIDs            []string `json:"kb_ids,omitempty"`
	RuntimeProfileID string   `json:"runtime_profile_id,omitempty"`
}

type items[T any] struct {
	Items []T `json:"items"`
}

// ListSessions 会话列表
func (c *Client) ListSessions(ctx context.Context, page, size int, query string) (*SessionList, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if size > 0 {
		q.Set("page_size", fmt.Sprint(size))
	}
	if query != "" {
		q.Set("query", query)
	}
	path := "/chat/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out SessionList
	if err := c.Do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSession 新建会话
func (c *Client) CreateSession(ctx context.Context, title, roleID string) (*ChatSession, error) {
	var out ChatSession
	body := map[string]string{"title": title, "role_id": roleID}
	if err := c.Do(ctx, http.MethodPost, "/chat/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession 删除会话
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(id), nil, nil)
}

// Ask 流式问答，返回完整回答
func (c *Client) Ask(ctx context.Context, req *AskRequest, onDelta func(string)) (string, error) {
	var answer string
	err := c.Stream(ctx, "/agent/qa/stream", req, func(ev StreamEvent) error {
		switch ev.Type {
		case EventMessage:
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		case EventDone:
			answer = ev.AssistantAnswer
			return ErrStopStream
		case EventError:
			return fmt.Errorf("stream error: %s", ev.Message)
		}
		return nil
	})
	return answer, err
}

// ListKnowledgeBases 知识库列表
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]*KnowledgeBase, error) {
	var out items[*KnowledgeBase]
	if err := c.Do(ctx, http.MethodGet, "/knowledge-bases", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Retrieve 知识库检索
func (c *Client) Retrieve(ctx context.Context, kbID, query string, topK int) ([]*RetrievalItem, error) {
	body := map[string]any{"kb_id": kbID, "query": query}
	if topK > 0 {
		body["top_k"] = topK
	}
	var out items[*RetrievalItem]
	if err := c.Do(ctx, http.MethodPost, "/retrieval/query", body, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateExport 创建导出任务
func (c *Client) CreateExport(ctx context.Context, req *ExportRequest) (*ExportJob, error) {
	var out ExportJob
	if err := c.Do(ctx, http.MethodPost, "/exports/jobs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExports 导出任务列表
func (c *Client) ListExports(ctx context.Context) ([]*ExportJob, error) {
	var out items[*ExportJob]
	if err := c.Do(ctx, http.MethodGet, "/exports/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// DownloadExport 下载归档写入 w
func (c *Client) DownloadExport(ctx context.Context, id string, w io.Writer) (int64, error) {
	req := request{method: http.MethodGet, path: APIPrefix + "/exports/jobs/" + url.PathEscape(id) + "/download"}
	resp, err := c.send(ctx, req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if !ok(resp.StatusCode) {
		return 0, responseError(resp)
	}
	return io.Copy(w, resp.Body)
}

// PreviewMasking 按当前规则预览脱敏结果
func (c *Client) PreviewMasking(ctx context.Context, text, scope string) (*Preview, error) {
	var out Preview
	body := map[string]string{"text": text, "member_scope": scope}
	if err := c.Do(ctx, http.MethodPost, "/desensitization/preview", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
