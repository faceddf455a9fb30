// Package client 是 family-health API 的 Go 客户端：统一响应解包、令牌刷新与登录失效通知
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ashwinyue/family-health/internal/logger"
)

// APIPrefix 业务接口前缀
const APIPrefix = "/api/v1"

// DefaultSessionTTL 与服务端刷新令牌有效期一致
const DefaultSessionTTL = 7 * 24 * time.Hour

// Client API 客户端，可并发使用
type Client struct {
	baseURL    string
	http       *http.Client
	store      SessionStore
	ttl        time.Duration
	now        func() time.Time
	log        *zap.Logger
	device     string
	onExpired  func()
	expired    atomic.Bool
	refreshing singleflight.Group
}

// ClientOption 客户端配置项
type ClientOption func(*Client)

// WithHTTPClient 自定义 http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithSessionStore 设置会话存储，默认内存
func WithSessionStore(s SessionStore) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

// WithSessionTTL 设置本地会话有效期
func WithSessionTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.ttl = d
	}
}

// WithAuthExpired 登录失效回调，每次登录或刷新成功之后最多触发一次
func WithAuthExpired(fn func()) ClientOption {
	return func(c *Client) {
		c.onExpired = fn
	}
}

// WithLogger 设置日志
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = logger.OrNop(log)
	}
}

// WithDeviceLabel 登录时上报的设备名
func WithDeviceLabel(label string) ClientOption {
	return func(c *Client) {
		c.device = label
	}
}

// New 创建客户端
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		store:   NewMemoryStore(nil),
		ttl:     DefaultSessionTTL,
		now:     time.Now,
		log:     zap.NewNop(),
		device:  "fhctl",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session 当前会话，未登录时返回 ErrNoSession
func (c *Client) Session() (*Session, error) {
	s, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if s == nil || s.Token == "" {
		return nil, ErrNoSession
	}
	return s, nil
}

// envelope 服务端统一响应
type envelope struct {
	Code    *int            `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	TraceID string          `json:"trace_id"`
}

type request struct {
	method  string
	path    string
	payload []byte
	// public 不携带令牌，也不参与刷新与失效通知
	public       bool
	allowRefresh bool
}

// Do 调用 APIPrefix 下的接口，成功时把 data 解码到 out
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := encode(body)
	if err != nil {
		return err
	}
	return c.do(ctx, request{method: method, path: APIPrefix + path, payload: payload, allowRefresh: true}, out)
}

func encode(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isJSON(resp) {
		if ok(resp.StatusCode) {
			return nil
		}
		return &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode), TraceID: "unknown"}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	code := 0
	if env.Code != nil {
		code = *env.Code
	}
	if ok(resp.StatusCode) && code == 0 {
		if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		return nil
	}

	msg := env.Message
	if msg == "" {
		msg = env.Detail
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	if env.Code == nil {
		code = resp.StatusCode
	}
	traceID := env.TraceID
	if traceID == "" {
		traceID = "unknown"
	}

	if resp.StatusCode == http.StatusUnauthorized && !req.public {
		if req.allowRefresh && refreshable.MatchString(msg) {
			if _, err := c.Refresh(ctx); err == nil {
				req.allowRefresh = false
				return c.do(ctx, req, out)
			}
		}
		c.notifyExpired()
		msg = MsgAuthExpired
	}
	return &APIError{Status: resp.StatusCode, Code: code, Message: msg, TraceID: traceID}
}

func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	var body io.Reader
	if req.payload != nil {
		body = bytes.NewReader(req.payload)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, err
	}
	if req.payload != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if !req.public {
		if s, err := c.store.Load(); err != nil {
			c.log.Warn("load session failed", zap.Error(err))
		} else if s != nil && s.Token != "" {
			hr.Header.Set("Authorization", "Bearer "+s.Token)
		}
	}
	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	return resp, nil
}

func isJSON(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "application/json")
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// notifyExpired 触发登录失效回调，重新登录或刷新成功前只触发一次
func (c *Client) notifyExpired() {
	if !c.expired.CompareAndSwap(false, true) {
		return
	}
	c.log.Info("authentication expired")
	if c.onExpired != nil {
		c.onExpired()
	}
}

// tokenPair 登录与刷新接口返回
type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Role         string `json:"role"`
	UserID       string `json:"user_id"`
}

// Login 登录并保存会话
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	payload, err := encode(map[string]string{
		"username":     username,
		"password":     password,
		"device_label": c.device,
	})
	if err != nil {
		return nil, err
	}
	var tp tokenPair
	if err := c.do(ctx, request{method: http.MethodPost, path: APIPrefix + "/auth/login", payload: payload, public: true}, &tp); err != nil {
		return nil, err
	}
	s := &Session{
		Token:        tp.AccessToken,
		RefreshToken: tp.RefreshToken,
		Role:         tp.Role,
		UserID:       tp.UserID,
		Username:     username,
	}
	if err := c.save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh 用刷新令牌换取新会话，并发调用只发起一次请求
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	v, err, _ := c.refreshing.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (c *Client) refresh(ctx context.Context) (*Session, error) {
	cur, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.RefreshToken == "" {
		return nil, ErrNoSession
	}
	payload, err := encode(map[string]string{"refresh_token": cur.RefreshToken})
	if err != nil {
		return nil, err
	}
	var tp tokenPair
	if err := c.do(ctx, request{method: http.MethodPost, path: APIPrefix + "/auth/refresh", payload: payload, public: true}, &tp); err != nil {
		c.log.Debug("refresh session failed", zap.Error(err))
		return nil, err
	}
	if tp.AccessToken == "" {
		return nil, errors.New("refresh response missing access token")
	}

	next := *cur
	next.Token = tp.AccessToken
	if tp.RefreshToken != "" {
		next.RefreshToken = tp.RefreshToken
	}
	if tp.Role != "" {
		next.Role = tp.Role
	}
	if tp.UserID != "" {
		next.UserID = tp.UserID
	}
	if err := c.save(&next); err != nil {
		return nil, err
	}
	return &next, nil
}

// save 写入会话并重新允许失效通知
func (c *Client) save(s *Session) error {
	if c.ttl > 0 {
		exp := c.now().Add(c.ttl)
		s.ExpiresAt = &exp
	}
	if err := c.store.Save(s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	c.expired.Store(false)
	return nil
}

// Logout 注销服务端刷新令牌并清除本地会话
// 服务端失败时本地会话仍会被清除
func (c *Client) Logout(ctx context.Context) error {
	s, err := c.store.Load()
	if err != nil {
		return err
	}
	var remoteErr error
	if s != nil && s.RefreshToken != "" {
		remoteErr = c.Do(ctx, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": s.RefreshToken}, nil)
	}
	if err := c.store.Clear(); err != nil {
		return err
	}
	return remoteErr
}

// Health 检查服务健康状态
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, request{method: http.MethodGet, path: "/health", public: true})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !ok(resp.StatusCode) {
		return &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode), TraceID: "unknown"}
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if body.Status != "ok" {
		return fmt.Errorf("service status %q", body.Status)
	}
	return nil
}
