package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/apperr"
	"github.com/ashwinyue/family-health/internal/middleware"
)

// Response 统一响应格式
type Response struct {
	Code    int    `json:"code"`
	Data    any    `json:"data"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

func traceID(c *gin.Context) string {
	return middleware.GetTraceID(c)
}

// Success 成功响应 (200)
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: apperr.CodeOK, Data: data, Message: "ok", TraceID: middleware.GetTraceID(c)})
}

// Created 创建成功响应 (201)
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Code: apperr.CodeOK, Data: data, Message: "ok", TraceID: middleware.GetTraceID(c)})
}

// Fail 按业务错误写出响应
func Fail(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(e.Status, Response{Code: e.Code, Message: e.Message, TraceID: middleware.GetTraceID(c)})
}

// Error 根据错误类型返回相应的错误响应，未知错误记录日志并返回 500
func (h *base) Error(c *gin.Context, err error) {
	if err == nil {
		return
	}
	if e, ok := apperr.As(err); ok {
		Fail(c, e)
		return
	}
	h.log.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.String("trace_id", middleware.GetTraceID(c)),
		zap.Error(err),
	)
	Fail(c, apperr.WithStatus(http.StatusInternalServerError, apperr.CodeInternal, "Internal server error"))
}

// InvalidParams 参数校验失败 (422)
func InvalidParams(c *gin.Context, err error) {
	Fail(c, apperr.WithStatus(http.StatusUnprocessableEntity, apperr.CodeInvalidParams, "Invalid parameters: "+describe(err)))
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			} else {
				parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
			}
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

// bindJSON 解析 JSON 请求体，失败时已写出 422
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		InvalidParams(c, err)
		return false
	}
	return true
}

// bindOptionalJSON 允许空请求体
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, v)
}

// bindQuery 解析查询参数
func bindQuery(c *gin.Context, v any) bool {
	if err := c.ShouldBindQuery(v); err != nil {
		InvalidParams(c, err)
		return false
	}
	return true
}

// Items 列表响应
type Items[T any] struct {
	Items []T `json:"items"`
}

func items[T any](list []T) Items[T] {
	if list == nil {
		list = []T{}
	}
	return Items[T]{Items: list}
}
