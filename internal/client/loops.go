package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// PollHealth 立即检查一次，之后按间隔轮询健康状态，直到 ctx 结束
func (c *Client) PollHealth(ctx context.Context, every time.Duration, fn func(error)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		fn(c.Health(ctx))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// KeepFresh 按间隔刷新令牌，刷新失败时触发登录失效，直到 ctx 结束
func (c *Client) KeepFresh(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if _, err := c.Session(); err != nil {
			continue
		}
		_, err := c.Refresh(ctx)
		if err == nil || ctx.Err() != nil {
			continue
		}
		c.log.Warn("keep-fresh refresh failed", zap.Error(err))
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, ErrNoSession) {
			c.notifyExpired()
		}
	}
}
