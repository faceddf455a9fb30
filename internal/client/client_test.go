package client_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/family-health/internal/client"
)

func writeEnvelope(w http.ResponseWriter, status, code int, data any, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":     code,
		"data":     data,
		"message":  message,
		"trace_id": "trace-1",
	})
}

// fakeAPI 模拟服务端令牌校验与刷新
type fakeAPI struct {
	mu          sync.Mutex
	valid       string
	refreshOK   bool
	newRefresh  string
	refreshHits atomic.Int32
	release     chan struct{}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret-pass" {
			writeEnvelope(w, http.StatusUnauthorized, 2003, nil, "Invalid username or password")
			return
		}
		f.mu.Lock()
		f.valid = "access-1"
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, 0, map[string]string{
			"access_token": "access-1", "refresh_token": "refresh-1", "role": "owner", "user_id": "u1",
		}, "ok")
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshHits.Add(1)
		if f.release != nil {
			<-f.release
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.refreshOK {
			writeEnvelope(w, http.StatusUnauthorized, 2004, nil, "Invalid refresh token")
			return
		}
		f.valid = fmt.Sprintf("access-%d", f.refreshHits.Load()+1)
		writeEnvelope(w, http.StatusOK, 0, map[string]string{
			"access_token": f.valid, "refresh_token": f.newRefresh,
		}, "ok")
	})
	mux.HandleFunc("/api/v1/echo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.valid
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			writeEnvelope(w, http.StatusUnauthorized, 1002, nil, "Invalid token")
			return
		}
		writeEnvelope(w, http.StatusOK, 0, map[string]string{"auth": r.Header.Get("Authorization")}, "ok")
	})
	mux.HandleFunc("/api/v1/locked", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, 2003, nil, "Invalid username or password")
	})
	mux.HandleFunc("/api/v1/missing", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, 4001, nil, "Chat session not found")
	})
	mux.HandleFunc("/api/v1/detail", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"bad input"}`))
	})
	mux.HandleFunc("/api/v1/plain", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	mux.HandleFunc("/api/v1/agent/qa/stream", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		valid := f.valid
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+valid {
			writeEnvelope(w, http.StatusUnauthorized, 1002, nil, "Invalid token")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"type\":\"message\",\"delta\":\"你\"}\n\n" +
			"data: {\"type\":\"message\",\"delta\":\"好\"}\n\n" +
			"data: {\"type\":\"done\",\"assistant_answer\":\"你好\",\"assistant_message_id\":\"m1\"}\n\n"))
	})
	return mux
}

func newClient(t *testing.T, f *fakeAPI, opts ...client.ClientOption) (*client.Client, *client.MemoryStore) {
	t.Helper()
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)
	store := client.NewMemoryStore(nil)
	opts = append([]client.ClientOption{client.WithSessionStore(store)}, opts...)
	return client.New(ts.URL, opts...), store
}

func TestLoginAndDo(t *testing.T) {
	f := &fakeAPI{}
	c, store := newClient(t, f)
	ctx := context.Background()

	s, err := c.Login(ctx, "alice", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "owner", s.Role)
	require.NotNil(t, s.ExpiresAt)

	var out map[string]string
	require.NoError(t, c.Do(ctx, http.MethodGet, "/echo", nil, &out))
	assert.Equal(t, "Bearer access-1", out["auth"])

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestLoginFailureKeepsServerMessage(t *testing.T) {
	var fired atomic.Int32
	c, _ := newClient(t, &fakeAPI{}, client.WithAuthExpired(func() { fired.Add(1) }))

	_, err := c.Login(context.Background(), "alice", "wrong-pass")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 2003, apiErr.Code)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.Zero(t, fired.Load())
}

func TestErrorMessages(t *testing.T) {
	c, _ := newClient(t, &fakeAPI{})
	ctx := context.Background()

	err := c.Do(ctx, http.MethodGet, "/missing", nil, nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 4001, apiErr.Code)
	assert.Equal(t, "Chat session not found", apiErr.Message)
	assert.Equal(t, "trace-1", apiErr.TraceID)
	assert.True(t, client.IsCode(err, 4001))

	err = c.Do(ctx, http.MethodGet, "/detail", nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad input", apiErr.Message)
	assert.Equal(t, http.StatusBadRequest, apiErr.Code)

	err = c.Do(ctx, http.MethodGet, "/plain", nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "HTTP 502", apiErr.Message)
}

func TestRefreshOnceThenRetry(t *testing.T) {
	f := &fakeAPI{refreshOK: true}
	c, store := newClient(t, f)
	ctx := context.Background()
	require.NoError(t, store.Save(&client.Session{Token: "stale", RefreshToken: "refresh-1"}))

	var out map[string]string
	require.NoError(t, c.Do(ctx, http.MethodGet, "/echo", nil, &out))
	assert.Equal(t, int32(1), f.refreshHits.Load())
	assert.Equal(t, "Bearer access-2", out["auth"])

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.Token)
	// 服务端未返回新的刷新令牌时沿用旧值
	assert.Equal(t, "refresh-1", s.RefreshToken)
}

func TestAuthExpiredFiresOnceUntilLogin(t *testing.T) {
	var fired atomic.Int32
	f := &fakeAPI{}
	c, store := newClient(t, f, client.WithAuthExpired(func() { fired.Add(1) }))
	ctx := context.Background()
	require.NoError(t, store.Save(&client.Session{Token: "stale", RefreshToken: "refresh-1"}))

	for i := 0; i < 3; i++ {
		err := c.Do(ctx, http.MethodGet, "/echo", nil, nil)
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, client.MsgAuthExpired, apiErr.Message)
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int32(3), f.refreshHits.Load())

	_, err := c.Login(ctx, "alice", "secret-pass")
	require.NoError(t, err)
	f.mu.Lock()
	f.valid = "rotated-elsewhere"
	f.mu.Unlock()
	require.Error(t, c.Do(ctx, http.MethodGet, "/echo", nil, nil))
	assert.Equal(t, int32(2), fired.Load())
}

func TestUnrecognizedUnauthorizedSkipsRefresh(t *testing.T) {
	f := &fakeAPI{refreshOK: true}
	c, store := newClient(t, f)
	require.NoError(t, store.Save(&client.Session{Token: "t", RefreshToken: "r"}))

	err := c.Do(context.Background(), http.MethodGet, "/locked", nil, nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, client.MsgAuthExpired, apiErr.Message)
	assert.Zero(t, f.refreshHits.Load())
}

func TestConcurrentRefreshSharesOneRequest(t *testing.T) {
	f := &fakeAPI{refreshOK: true, newRefresh: "refresh-2", release: make(chan struct{})}
	c, store := newClient(t, f)
	require.NoError(t, store.Save(&client.Session{Token: "stale", RefreshToken: "refresh-1"}))

	const n = 5
	var wg sync.WaitGroup
	results := make(chan *client.Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Refresh(context.Background())
			if err == nil {
				results <- s
			}
		}()
	}
	require.Eventually(t, func() bool { return f.refreshHits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), f.refreshHits.Load())
	count := 0
	for s := range results {
		count++
		assert.Equal(t, "refresh-2", s.RefreshToken)
	}
	assert.Equal(t, n, count)
}

func TestAskStreamsDeltas(t *testing.T) {
	f := &fakeAPI{refreshOK: true}
	c, store := newClient(t, f)
	require.NoError(t, store.Save(&client.Session{Token: "stale", RefreshToken: "refresh-1"}))

	var deltas []string
	answer, err := c.Ask(context.Background(), &client.AskRequest{SessionID: "s1", Query: "hi"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"你", "好"}, deltas)
	assert.Equal(t, "你好", answer)
	assert.Equal(t, int32(1), f.refreshHits.Load())
}

func TestStreamUnauthorizedAfterRefresh(t *testing.T) {
	var fired atomic.Int32
	c, store := newClient(t, &fakeAPI{}, client.WithAuthExpired(func() { fired.Add(1) }))
	require.NoError(t, store.Save(&client.Session{Token: "stale", RefreshToken: "refresh-1"}))

	_, err := c.Ask(context.Background(), &client.AskRequest{SessionID: "s1", Query: "hi"}, nil)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, int32(1), fired.Load())
}

func TestReadEvents(t *testing.T) {
	raw := ": keep-alive\n\n" +
		"event: message\ndata: {\"type\":\"message\",\"delta\":\"a\"}\n\n" +
		"data:\n\n" +
		"data:{\"type\":\"message\",\"delta\":\"b\"}\r\n\n" +
		"data: {\"type\":\"done\",\"assistant_answer\":\"ab\"}\n\n" +
		"data: {\"type\":\"message\",\"delta\":\"partial\"}"

	var got []client.StreamEvent
	err := client.ReadEvents(strings.NewReader(raw), func(ev client.StreamEvent) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Delta)
	assert.Equal(t, "b", got[1].Delta)
	assert.Equal(t, client.EventDone, got[2].Type)

	err = client.ReadEvents(strings.NewReader("data: {oops\n\n"), func(client.StreamEvent) error { return nil })
	assert.Error(t, err)
}

func TestHealthAndPoll(t *testing.T) {
	c, _ := newClient(t, &fakeAPI{})
	require.NoError(t, c.Health(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.PollHealth(ctx, 10*time.Millisecond, func(err error) {
			assert.NoError(t, err)
			calls.Add(1)
		})
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestKeepFreshNotifiesOnFailure(t *testing.T) {
	var fired atomic.Int32
	f := &fakeAPI{}
	c, store := newClient(t, f, client.WithAuthExpired(func() { fired.Add(1) }))
	require.NoError(t, store.Save(&client.Session{Token: "t", RefreshToken: "r"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.KeepFresh(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := client.NewFileStore(path)

	s, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, s)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, store.Save(&client.Session{Token: "t", RefreshToken: "r", ExpiresAt: &exp}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "r", s.RefreshToken)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(&client.Session{Token: "t", ExpiresAt: &past}))
	s, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, s)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, store.Clear())
}

func TestLogoutClearsSession(t *testing.T) {
	f := &fakeAPI{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/auth/logout" {
			writeEnvelope(w, http.StatusOK, 0, map[string]bool{"logged_out": true}, "ok")
			return
		}
		f.handler().ServeHTTP(w, r)
	}))
	defer ts.Close()
	store := client.NewMemoryStore(&client.Session{Token: "t", RefreshToken: "r"})
	c := client.New(ts.URL, client.WithSessionStore(store))

	require.NoError(t, c.Logout(context.Background()))
	_, err := c.Session()
	assert.ErrorIs(t, err, client.ErrNoSession)
}
