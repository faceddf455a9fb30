package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/client"
	"github.com/ashwinyue/family-health/internal/handler"
	"github.com/ashwinyue/family-health/internal/router"
	"github.com/ashwinyue/family-health/internal/service"
	"github.com/ashwinyue/family-health/internal/testutil"
)

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testutil.Config(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc, err := service.NewServices(ctx, testutil.Repos(t), cfg, nil, nil)
	require.NoError(t, err)
	svc.Start(ctx)
	ts := httptest.NewServer(router.SetupRouter(handler.NewHandlers(svc, nil), svc.Auth, cfg, nil))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		svc.Stop()
	})

	c := client.New(ts.URL)
	require.NoError(t, c.Do(ctx, http.MethodPost, "/auth/bootstrap-owner", map[string]string{
		"username": "owner", "password": "owner-pass-123", "display_name": "Owner",
	}, nil))
	return ts.URL
}

type cli struct {
	t       *testing.T
	server  string
	session string
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--server", c.server, "--session-file", c.session}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIFlow(t *testing.T) {
	c := &cli{t: t, server: startServer(t), session: filepath.Join(t.TempDir(), "session.json")}

	out, err := c.run("health")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	_, err = c.run("sessions", "list")
	require.Error(t, err)

	_, err = c.run("login", "-u", "owner", "-p", "wrong-pass-000")
	require.Error(t, err)

	out, err = c.run("login", "-u", "owner", "-p", "owner-pass-123")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as owner (owner)")

	out, err = c.run("sessions", "create", "-t", "血压随访")
	require.NoError(t, err)
	sessionID := strings.TrimSpace(out)
	require.NotEmpty(t, sessionID)

	out, err = c.run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sessionID)
	assert.Contains(t, out, "total: 1")

	out, err = c.run("ask", "--session", sessionID, "最近血压偏高怎么办")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))

	// 未配置规则时原样返回
	out, err = c.run("rules", "preview", "联系电话 13800138000")
	require.NoError(t, err)
	assert.Equal(t, "联系电话 13800138000\n", out)

	out, err = c.run("kb", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")

	out, err = c.run("export", "create", "--type", "chat")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, err = c.run("sessions", "delete", sessionID)
	require.NoError(t, err)

	out, err = c.run("logout")
	require.NoError(t, err)
	assert.Equal(t, "signed out\n", out)

	_, err = c.run("sessions", "list")
	require.Error(t, err)
}
