package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/handler"
	"github.com/ashwinyue/family-health/internal/router"
	"github.com/ashwinyue/family-health/internal/service"
	"github.com/ashwinyue/family-health/internal/testutil"
)

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	TraceID string          `json:"trace_id"`
}

type server struct {
	t  *testing.T
	ts *httptest.Server
	h  http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testutil.Config(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := service.NewServices(ctx, testutil.Repos(t), cfg, nil, nil)
	require.NoError(t, err)
	svc.Start(ctx)

	r := router.SetupRouter(handler.NewHandlers(svc, nil), svc.Auth, cfg, nil)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		svc.Stop()
	})
	return &server{t: t, ts: ts, h: r}
}

func (s *server) raw(method, path, token string, body any) *http.Response {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	require.NoError(s.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	return resp
}

func (s *server) call(method, path, token string, body, out any) (int, *envelope) {
	s.t.Helper()
	resp := s.raw(method, path, token, body)
	defer resp.Body.Close()
	var env envelope
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(s.t, resp.Header.Get("X-Trace-Id"), env.TraceID)
	if out != nil && env.Code == 0 {
		require.NoError(s.t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, &env
}

type tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Role         string `json:"role"`
	UserID       string `json:"user_id"`
}

func (s *server) login(username, password string) *tokens {
	s.t.Helper()
	var tk tokens
	status, env := s.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username, "password": password,
	}, &tk)
	require.Equal(s.t, http.StatusOK, status, env.Message)
	return &tk
}

func (s *server) owner() *tokens {
	s.t.Helper()
	status, env := s.call(http.MethodPost, "/api/v1/auth/bootstrap-owner", "", map[string]string{
		"username": "owner", "password": "owner-pass-1", "display_name": "Owner",
	}, nil)
	require.Equal(s.t, http.StatusOK, status, env.Message)
	return s.login("owner", "owner-pass-1")
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	resp := s.raw(http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"))
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	assert.Equal(t, "bearer", tk.TokenType)
	assert.Equal(t, "owner", tk.Role)

	status, env := s.call(http.MethodPost, "/api/v1/auth/bootstrap-owner", "", map[string]string{
		"username": "other", "password": "other-pass-1", "display_name": "Other",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 2001, env.Code)

	var me map[string]any
	status, _ = s.call(http.MethodGet, "/api/v1/auth/me", tk.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "owner", me["username"])

	var rotated tokens
	status, _ = s.call(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": tk.RefreshToken}, &rotated)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, tk.RefreshToken, rotated.RefreshToken)

	// 旧刷新令牌已被轮换
	status, env = s.call(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": tk.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 2004, env.Code)

	status, env = s.call(http.MethodPost, "/api/v1/auth/logout", rotated.AccessToken, map[string]string{"refresh_token": rotated.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	status, _ = s.call(http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAuthGuardMessages(t *testing.T) {
	s := newServer(t)
	tk := s.owner()

	cases := []struct {
		name  string
		token string
		msg   string
	}{
		{"missing", "", "Missing bearer token"},
		{"garbage", "not-a-jwt", "Invalid token"},
		{"refresh as access", tk.RefreshToken, "Invalid token type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := s.call(http.MethodGet, "/api/v1/chat/sessions", tc.token, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, tc.msg, env.Message)
			assert.NotEmpty(t, env.TraceID)
		})
	}
}

func TestValidationError(t *testing.T) {
	s := newServer(t)
	status, env := s.call(http.MethodPost, "/api/v1/auth/login", "", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, 1001, env.Code)
	assert.True(t, strings.HasPrefix(env.Message, "Invalid parameters: "))
}

func TestViewerCannotWriteMCP(t *testing.T) {
	s := newServer(t)
	owner := s.owner()

	status, env := s.call(http.MethodPost, "/api/v1/auth/users", owner.AccessToken, map[string]string{
		"username": "grandma", "password": "viewer-pass-1", "display_name": "Grandma", "role": "viewer",
	}, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	viewer := s.login("grandma", "viewer-pass-1")

	status, env = s.call(http.MethodPost, "/api/v1/mcp/servers", viewer.AccessToken, map[string]string{
		"name": "weather", "endpoint": "mock://weather",
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 1004, env.Code)

	status, _ = s.call(http.MethodGet, "/api/v1/mcp/servers", viewer.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = s.call(http.MethodGet, "/api/v1/auth/users", viewer.AccessToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, 1004, env.Code)
}

func TestNotFoundEnvelope(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	status, env := s.call(http.MethodGet, "/api/v1/chat/sessions/missing", tk.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 4001, env.Code)
}

type frame struct {
	Type               string `json:"type"`
	Delta              string `json:"delta"`
	AssistantAnswer    string `json:"assistant_answer"`
	AssistantMessageID string `json:"assistant_message_id"`
}

func TestAgentStreamFrames(t *testing.T) {
	s := newServer(t)
	tk := s.owner()

	var sess struct {
		ID string `json:"id"`
	}
	status, _ := s.call(http.MethodPost, "/api/v1/chat/sessions", tk.AccessToken, map[string]string{"title": "体检"}, &sess)
	require.Equal(t, http.StatusOK, status)

	resp := s.raw(http.MethodPost, "/api/v1/agent/qa/stream", tk.AccessToken, map[string]string{
		"session_id": sess.ID, "query": "最近血压偏高怎么办",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var frames []frame
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f frame
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, "done", last.Type)
	assert.NotEmpty(t, last.AssistantMessageID)

	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		assert.Equal(t, "message", f.Type)
		text.WriteString(f.Delta)
	}
	assert.Equal(t, last.AssistantAnswer, text.String())

	var msgs struct {
		Items []map[string]any `json:"items"`
	}
	s.call(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/messages", tk.AccessToken, nil, &msgs)
	require.Len(t, msgs.Items, 2)
	assert.Equal(t, "assistant", msgs.Items[1]["role"])
}

func TestAgentStreamEmptyQuery(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	var sess struct {
		ID string `json:"id"`
	}
	s.call(http.MethodPost, "/api/v1/chat/sessions", tk.AccessToken, map[string]string{}, &sess)

	status, env := s.call(http.MethodPost, "/api/v1/agent/qa/stream", tk.AccessToken, map[string]string{"session_id": sess.ID}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 4005, env.Code)
}

func TestChatMarkdownExport(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	var sess struct {
		ID string `json:"id"`
	}
	s.call(http.MethodPost, "/api/v1/chat/sessions", tk.AccessToken, map[string]string{"title": "随访"}, &sess)
	status, _ := s.call(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", tk.AccessToken, map[string]string{"content": "复查时间"}, nil)
	require.Equal(t, http.StatusOK, status)

	resp := s.raw(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/export?fmt=md", tk.AccessToken, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "复查时间")
	assert.Contains(t, resp.Header.Get("Content-Disposition"), sess.ID+".md")

	status, env := s.call(http.MethodGet, "/api/v1/chat/sessions/"+sess.ID+"/export?fmt=pdf", tk.AccessToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, 4007, env.Code)
}

func TestExportJobDownload(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	var sess struct {
		ID string `json:"id"`
	}
	s.call(http.MethodPost, "/api/v1/chat/sessions", tk.AccessToken, map[string]string{}, &sess)
	s.call(http.MethodPost, "/api/v1/chat/sessions/"+sess.ID+"/messages", tk.AccessToken, map[string]string{"content": "用药记录"}, nil)

	var job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status, env := s.call(http.MethodPost, "/api/v1/exports/jobs", tk.AccessToken, map[string]any{"export_types": []string{"chat"}}, &job)
	require.Equal(t, http.StatusOK, status, env.Message)

	require.Eventually(t, func() bool {
		var got struct {
			Status string `json:"status"`
		}
		s.call(http.MethodGet, "/api/v1/exports/jobs/"+job.ID, tk.AccessToken, nil, &got)
		return got.Status == "done"
	}, 5*time.Second, 20*time.Millisecond)

	resp := s.raw(http.MethodGet, "/api/v1/exports/jobs/"+job.ID+"/download", tk.AccessToken, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestOversizedUploadRejected(t *testing.T) {
	s := newServer(t)
	tk := s.owner()
	var kb struct {
		ID string `json:"id"`
	}
	status, env := s.call(http.MethodPost, "/api/v1/knowledge-bases", tk.AccessToken, map[string]string{"name": "big"}, &kb)
	require.Equal(t, http.StatusOK, status, env.Message)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "big.txt")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("a"), 34<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge-bases/"+kb.ID+"/documents/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tk.AccessToken)
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var got envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "File too large", got.Message)
}
