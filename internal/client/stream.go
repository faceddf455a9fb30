package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// 流事件类型
const (
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

const maxFrameBytes = 4 << 20

// ErrStopStream 回调返回该错误可提前结束读取，Stream 返回 nil
var ErrStopStream = errors.New("stop stream")

// StreamEvent 问答流事件
type StreamEvent struct {
	Type               string `json:"type"`
	Delta              string `json:"delta,omitempty"`
	AssistantAnswer    string `json:"assistant_answer,omitempty"`
	ReasoningContent   string `json:"reasoning_content,omitempty"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Stream 以 POST 打开 SSE 流，逐帧回调
// 401 时刷新一次令牌后重试，仍失败则触发登录失效
func (c *Client) Stream(ctx context.Context, path string, body any, fn func(StreamEvent) error) error {
	payload, err := encode(body)
	if err != nil {
		return err
	}
	req := request{method: http.MethodPost, path: APIPrefix + path, payload: payload}

	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if _, rerr := c.Refresh(ctx); rerr == nil {
			if resp, err = c.send(ctx, req); err != nil {
				return err
			}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.notifyExpired()
		return &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: MsgAuthExpired, TraceID: "auth-expired"}
	}
	if !ok(resp.StatusCode) {
		return responseError(resp)
	}

	err = ReadEvents(resp.Body, fn)
	if errors.Is(err, ErrStopStream) {
		return nil
	}
	return err
}

func responseError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode, Code: resp.StatusCode, Message: fmt.Sprintf("stream failed: HTTP %d", resp.StatusCode), TraceID: "unknown"}
	if !isJSON(resp) {
		return e
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return e
	}
	if env.Code != nil {
		e.Code = *env.Code
	}
	if env.Message != "" {
		e.Message = env.Message
	} else if env.Detail != "" {
		e.Message = env.Detail
	}
	if env.TraceID != "" {
		e.TraceID = env.TraceID
	}
	return e
}

// ReadEvents 解析 SSE：帧以空行分隔，取首个 data: 行，空数据跳过
// 末尾不完整的帧会被丢弃
func ReadEvents(r io.Reader, fn func(StreamEvent) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameBytes)
	sc.Split(splitFrames)
	for sc.Scan() {
		data, found := frameData(sc.Text())
		if !found || data == "" {
			continue
		}
		var ev StreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}

func frameData(frame string) (string, bool) {
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(line[len("data:"):]), true
		}
	}
	return "", false
}

func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
