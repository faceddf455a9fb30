package callback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", truncate(nil))
	assert.Equal(t, "short", truncate("short"))
	long := strings.Repeat("健", 300)
	got := truncate(long)
	assert.Equal(t, maxLogValue+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestLogger_OnErrorLogsWarn(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLogger(zap.New(core), false)
	info := &callbacks.RunInfo{Name: "qa", Type: "OpenAI", Component: components.ComponentOfChatModel}

	ctx := context.Background()
	assert.Equal(t, ctx, l.OnStart(ctx, info, "input"))
	l.OnError(ctx, info, errors.New("boom"))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "component error", entries[0].Message)
		assert.Equal(t, "qa", entries[0].ContextMap()["name"])
	}
}

func TestLogger_DebugEnabled(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewLogger(zap.New(core), true)
	info := &callbacks.RunInfo{Name: "embed", Component: components.ComponentOfEmbedding}

	l.OnStart(context.Background(), info, "x")
	l.OnEnd(context.Background(), info, "y")
	assert.Equal(t, 2, logs.Len())
}
