package agent

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/model"
)

// 流式事件类型
const (
	EventMessage   = "message"
	EventReasoning = "reasoning"
	EventDone      = "done"
	EventError     = "error"
)

// fallbackChunkRunes 本地回答分片大小
const fallbackChunkRunes = 24

// StreamEvent 流式事件，对应 SSE 的一帧
type StreamEvent struct {
	Type               string `json:"type"`
	Delta              string `json:"delta,omitempty"`
	AssistantAnswer    string `json:"assistant_answer,omitempty"`
	ReasoningContent   string `json:"reasoning_content,omitempty"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Stream 流式问答
// 准备阶段的错误直接返回；生成阶段的错误以 error 事件结束。
// ctx 结束（客户端断开）或 StopStream 会中止生成，已生成的内容照常保存
func (s *Service) Stream(ctx context.Context, userID string, req *QARequest) (<-chan StreamEvent, error) {
	t, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	messageID := model.NewID()
	genCtx, cancel := context.WithCancel(ctx)
	active := s.streams.RegisterStream(t.session.ID, messageID, cancel)

	out := make(chan StreamEvent, 16)
	send := func(ev StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer cancel()
		defer s.streams.UnregisterStream(t.session.ID, messageID)

		var reasoning string
		genErr := s.generate(genCtx, t, func(delta, reasoningDelta string) {
			if reasoningDelta != "" {
				reasoning += reasoningDelta
				if t.session.ShowReasoning && reasoningOn(t.session) {
					send(StreamEvent{Type: EventReasoning, Delta: reasoningDelta})
				}
			}
			if delta != "" {
				active.AppendChunk(delta)
				send(StreamEvent{Type: EventMessage, Delta: delta})
			}
		})

		answer := active.GetContent()
		stopped := genCtx.Err() != nil
		if genErr != nil && !stopped {
			s.log.Warn("stream generation failed", zap.String("session_id", t.session.ID), zap.Error(genErr))
			if answer == "" {
				send(StreamEvent{Type: EventError, Message: errorMessage(genErr)})
				return
			}
		}

		// 客户端可能已断开，保存不受请求取消影响
		res, err := s.finish(context.WithoutCancel(ctx), t, messageID, answer, reasoning)
		if err != nil {
			s.log.Error("save assistant message failed", zap.String("session_id", t.session.ID), zap.Error(err))
			send(StreamEvent{Type: EventError, Message: errorMessage(err)})
			return
		}
		send(StreamEvent{
			Type:               EventDone,
			AssistantAnswer:    res.AssistantAnswer,
			ReasoningContent:   res.ReasoningContent,
			AssistantMessageID: res.AssistantMessageID,
		})
	}()
	return out, nil
}

// generate 调用模型流式生成；没有模型时分片输出本地回答
func (s *Service) generate(ctx context.Context, t *turn, emit func(delta, reasoning string)) error {
	if t.chatModel == nil {
		runes := []rune(t.fallback())
		for i := 0; i < len(runes); i += fallbackChunkRunes {
			if err := ctx.Err(); err != nil {
				return err
			}
			emit(string(runes[i:min(i+fallbackChunkRunes, len(runes))]), "")
		}
		return nil
	}

	reader, err := t.chatModel.Stream(ctx, t.messages)
	if err != nil {
		return err
	}
	defer reader.Close()
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if chunk == nil {
			continue
		}
		emit(chunk.Content, chunk.ReasoningContent)
	}
}

// Stop 停止会话中的活跃流
func (s *Service) Stop(ctx context.Context, userID, sessionID string) error {
	if _, err := s.chat.GetSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if !s.streams.StopStream(sessionID) {
		return apperr.ErrStreamNotFound
	}
	return nil
}

func errorMessage(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}
