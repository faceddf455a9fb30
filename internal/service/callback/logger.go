// Package callback 提供 Eino Callback 日志支持
package callback

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/logger"
)

const maxLogValue = 200

// Logger 日志回调处理器
// 实现 callbacks.Handler 接口，记录模型、向量化和工具组件的执行事件
type Logger struct {
	log         *zap.Logger
	EnableDebug bool
}

// NewLogger 创建日志回调处理器
func NewLogger(log *zap.Logger, enableDebug bool) *Logger {
	return &Logger{log: logger.OrNop(log).Named("eino"), EnableDebug: enableDebug}
}

func runFields(info *callbacks.RunInfo) []zap.Field {
	if info == nil {
		return nil
	}
	return []zap.Field{
		zap.String("name", info.Name),
		zap.String("type", info.Type),
		zap.String("component", string(info.Component)),
	}
}

// OnStart 组件执行开始时调用
func (l *Logger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if l.EnableDebug {
		l.log.Debug("component start", append(runFields(info), zap.String("input", truncate(input)))...)
	}
	return ctx
}

// OnEnd 组件执行成功结束时调用
func (l *Logger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if l.EnableDebug {
		l.log.Debug("component end", append(runFields(info), zap.String("output", truncate(output)))...)
	}
	return ctx
}

// OnError 组件执行出错时调用
func (l *Logger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.log.Warn("component error", append(runFields(info), zap.Error(err))...)
	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
// 回调拿到的是流副本，必须关闭
func (l *Logger) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	if l.EnableDebug {
		l.log.Debug("component stream input", runFields(info)...)
	}
	return ctx
}

// OnEndWithStreamOutput 流式输出结束时调用
func (l *Logger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	if l.EnableDebug {
		l.log.Debug("component stream output", runFields(info)...)
	}
	return ctx
}

// truncate 截断日志内容，避免日志过大
func truncate(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprintf("%v", v)
	r := []rune(s)
	if len(r) > maxLogValue {
		return string(r[:maxLogValue]) + "..."
	}
	return s
}

// SetupGlobalCallbacks 设置全局回调
func SetupGlobalCallbacks(log *zap.Logger, enableDebug bool) {
	callbacks.AppendGlobalHandlers(NewLogger(log, enableDebug))
	logger.OrNop(log).Info("eino global callbacks registered", zap.Bool("debug", enableDebug))
}
