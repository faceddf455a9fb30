package handler

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/agent"
)

// AgentHandler 角色与问答
type AgentHandler struct {
	base
}

// ListRoles 角色列表
// GET /api/v1/agent/roles
func (h *AgentHandler) ListRoles(c *gin.Context) {
	roles, err := h.svc.Agent.Roles().ListRoles()
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(roles))
}

// GetRole 角色提示词
// GET /api/v1/agent/roles/:id
func (h *AgentHandler) GetRole(c *gin.Context) {
	prompt, err := h.svc.Agent.Roles().GetRole(c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"id": c.Param("id"), "prompt": prompt})
}

// QA 同步问答
// POST /api/v1/agent/qa
func (h *AgentHandler) QA(c *gin.Context) {
	var req agent.QARequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.svc.Agent.QA(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// Stream 流式问答，每个事件写为一帧 "data: <json>\n\n"
// POST /api/v1/agent/qa/stream
func (h *AgentHandler) Stream(c *gin.Context) {
	var req agent.QARequest
	if !bindJSON(c, &req) {
		return
	}
	events, err := h.svc.Agent.Stream(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		data, err := json.Marshal(ev)
		if err != nil {
			h.log.Warn("encode stream event", zap.Error(err))
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		return ev.Type != agent.EventDone && ev.Type != agent.EventError
	})
	// 提前结束时排空通道，让生成协程退出
	go func() {
		for range events {
		}
	}()
}

// StopStream 停止会话当前的流式回答
// POST /api/v1/agent/qa/stream/:session_id/stop
func (h *AgentHandler) StopStream(c *gin.Context) {
	if err := h.svc.Agent.Stop(c.Request.Context(), middleware.GetUserID(c), c.Param("session_id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"stopped": true})
}
