package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ashwinyue/family-health/internal/model"
)

// maxToolBody 工具响应体上限
const maxToolBody = 1 << 20

// ToolResult 单个服务的调用结果
type ToolResult struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	Output     string `json:"output"`
}

// RouteResult 工具路由结果
type RouteResult struct {
	Results  []ToolResult `json:"results"`
	Warnings []string     `json:"warnings"`
}

// ServerTool 把一个 MCP 服务包装为 eino 工具
type ServerTool struct {
	svc    *Service
	server *model.MCPServer
}

var _ tool.InvokableTool = (*ServerTool)(nil)

// Tool 返回服务对应的工具
func (s *Service) Tool(server *model.MCPServer) *ServerTool {
	return &ServerTool{svc: s, server: server}
}

// Info 返回工具信息
func (t *ServerTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "mcp_" + strings.ReplaceAll(t.server.ID, "-", "_"),
		Desc: fmt.Sprintf("调用 MCP 服务 %s 查询外部信息", t.server.Name),
		ParamsOneOf: schema.NewParamsOneOfByParams(
			map[string]*schema.ParameterInfo{
				"query": {
					Type:     schema.String,
					Desc:     "查询内容",
					Required: true,
				},
			},
		),
	}, nil
}

// InvokableRun 执行工具
func (t *ServerTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	args := argumentsInJSON
	if !gjson.Valid(args) {
		repaired, err := jsonrepair.JSONRepair(args)
		if err != nil {
			return "", fmt.Errorf("参数解析失败: %w", err)
		}
		args = repaired
	}
	query := gjson.Get(args, "query").String()

	endpoint := t.server.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "mock://fail"):
		return "", errors.New("simulated timeout")
	case strings.HasPrefix(endpoint, "mock://"):
		return fmt.Sprintf("[%s] %s", t.server.Name, query), nil
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return t.callHTTP(ctx, query)
	default:
		return "", errors.New("unsupported endpoint")
	}
}

func (t *ServerTool) callHTTP(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.server.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	t.svc.applyAuth(req, t.server)

	resp, err := t.svc.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return ExtractOutput(string(body)), nil
}

// ExtractOutput 从工具响应中提取文本
// 依次取 output、result、text 字段；非 JSON 响应先尝试修复，仍失败则原样返回
func ExtractOutput(body string) string {
	raw := strings.TrimSpace(body)
	if raw == "" {
		return ""
	}
	doc := raw
	if !gjson.Valid(doc) {
		repaired, err := jsonrepair.JSONRepair(doc)
		if err != nil || !gjson.Valid(repaired) {
			return raw
		}
		doc = repaired
	}
	parsed := gjson.Parse(doc)
	if parsed.Type == gjson.String {
		return parsed.String()
	}
	for _, key := range []string{"output", "result", "text"} {
		if v := parsed.Get(key); v.Exists() {
			return v.String()
		}
	}
	return doc
}

type routeSlot struct {
	id     string
	server *model.MCPServer
	output string
	err    error
}

// RouteTools 并发调用启用的服务，结果按请求顺序返回
// 缺失、停用或调用失败的服务记为告警，不影响其他服务
func (s *Service) RouteTools(ctx context.Context, userID string, serverIDs []string, query string) (*RouteResult, error) {
	result := &RouteResult{Results: []ToolResult{}, Warnings: []string{}}
	ids := dedupe(serverIDs)
	if len(ids) == 0 {
		return result, nil
	}

	servers, err := s.repo.MCP.GetServers(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.MCPServer, len(servers))
	for _, srv := range servers {
		byID[srv.ID] = srv
	}

	slots := make([]*routeSlot, len(ids))
	for i, id := range ids {
		slot := &routeSlot{id: id}
		if srv, ok := byID[id]; ok && srv.Enabled {
			slot.server = srv
		}
		slots[i] = slot
	}

	if budget := s.cfg.TotalBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	args, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	g.SetLimit(max(s.cfg.MaxParallelTools, 1))
	for _, slot := range slots {
		if slot.server == nil {
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout(slot.server))
			defer cancel()
			slot.output, slot.err = s.Tool(slot.server).InvokableRun(callCtx, string(args))
			return nil
		})
	}
	_ = g.Wait()

	for _, slot := range slots {
		switch {
		case slot.server == nil:
			result.Warnings = append(result.Warnings, "MCP server unavailable: "+slot.id)
		case slot.err != nil:
			s.log.Warn("mcp tool call failed",
				zap.String("server_id", slot.id),
				zap.String("name", slot.server.Name),
				zap.Error(slot.err))
			result.Warnings = append(result.Warnings, fmt.Sprintf("MCP %s failed: %v", slot.server.Name, slot.err))
		default:
			result.Results = append(result.Results, ToolResult{
				ServerID:   slot.id,
				ServerName: slot.server.Name,
				Output:     slot.output,
			})
		}
	}
	return result, nil
}

func (s *Service) callTimeout(server *model.MCPServer) time.Duration {
	if d := server.Timeout(); d > 0 {
		return d
	}
	if d := s.cfg.ToolTimeout(); d > 0 {
		return d
	}
	return DefaultTimeoutMs * time.Millisecond
}
