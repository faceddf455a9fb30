package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleToSchema(t *testing.T) {
	tests := []struct {
		role     string
		expected schema.RoleType
	}{
		{"user", schema.User},
		{"system", schema.System},
		{"assistant", schema.Assistant},
		{"", schema.User},
		{"unknown", schema.User},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Equal(t, tt.expected, roleToSchema(tt.role))
		})
	}
}

func countingLoader(calls *int, msgs ...*schema.Message) Loader {
	return func(ctx context.Context, limit int) ([]*schema.Message, error) {
		*calls++
		if len(msgs) > limit {
			return msgs[len(msgs)-limit:], nil
		}
		return msgs, nil
	}
}

func TestGetHistory_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	calls := 0
	load := countingLoader(&calls, schema.UserMessage("hi"), schema.AssistantMessage("hello", nil))

	got, err := m.GetHistory(ctx, "s1", 12, load)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, schema.User, got[0].Role)
	assert.Equal(t, "hello", got[1].Content)

	_, err = m.GetHistory(ctx, "s1", 12, load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// 窗口大小变化时重新加载
	got, err = m.GetHistory(ctx, "s1", 1, load)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, calls)

	m.Invalidate(ctx, "s1")
	_, err = m.GetHistory(ctx, "s1", 1, load)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGetHistory_ExpiredEntryReloads(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, nil)
	now := time.Now()
	m.now = func() time.Time { return now }
	calls := 0
	load := countingLoader(&calls, schema.UserMessage("hi"))

	_, err := m.GetHistory(ctx, "s1", 5, load)
	require.NoError(t, err)
	now = now.Add(historyTTL + time.Second)
	_, err = m.GetHistory(ctx, "s1", 5, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetHistory_LoaderError(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.GetHistory(context.Background(), "s1", 5, func(ctx context.Context, limit int) ([]*schema.Message, error) {
		return nil, errors.New("db down")
	})
	assert.EqualError(t, err, "db down")
}

func TestStreamRegistry(t *testing.T) {
	m := NewManager(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := m.RegisterStream("s1", "m1", cancel)
	stream.AppendChunk("部分")
	stream.AppendChunk("回答")
	assert.Equal(t, "部分回答", stream.GetContent())
	assert.Same(t, stream, m.GetStream("s1", "m1"))

	assert.True(t, m.StopStream("s1"))
	assert.Error(t, ctx.Err())
	assert.True(t, stream.IsDone())
	assert.True(t, stream.IsStopped())
	assert.Nil(t, m.GetStream("s1", "m1"))
	assert.False(t, m.StopStream("s1"))
}

func TestUnregisterStream(t *testing.T) {
	m := NewManager(nil, nil)
	stream := m.RegisterStream("s1", "m1", nil)
	m.UnregisterStream("s1", "m1")
	assert.True(t, stream.IsDone())
	assert.False(t, stream.IsStopped())
	assert.False(t, m.StopStream("s1"))
}

func TestActiveStream_ConcurrentAppend(t *testing.T) {
	stream := &ActiveStream{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.AppendChunk("x")
		}()
	}
	wg.Wait()
	assert.Len(t, stream.GetContent(), 50)
}
