// Package apperr 定义业务错误码
//
// 错误码分段：1xxx 请求/认证守卫，2xxx 认证服务，3xxx 模型注册，4xxx 聊天，
// 5xxx 脱敏，6xxx MCP，7xxx 知识库与角色，8xxx 导出。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error 业务错误
type Error struct {
	Code    int
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// New 创建业务错误，HTTP 状态默认 400
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message, Status: http.StatusBadRequest}
}

// WithStatus 创建指定 HTTP 状态的业务错误
func WithStatus(status, code int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// As 从错误链中提取业务错误
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode 判断错误是否为指定错误码
func HasCode(err error, code int) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

const (
	CodeOK            = 0
	CodeInvalidParams = 1001
	CodeUnauthorized  = 1002
	CodeForbidden     = 1004
	CodeInternal      = 5000
)

// 认证
var (
	ErrMissingBearer = WithStatus(http.StatusUnauthorized, CodeUnauthorized, "Missing bearer token")
	ErrInvalidToken  = WithStatus(http.StatusUnauthorized, CodeUnauthorized, "Invalid token")
	ErrTokenType     = WithStatus(http.StatusUnauthorized, CodeUnauthorized, "Invalid token type")
	ErrUserNotFound  = WithStatus(http.StatusUnauthorized, CodeUnauthorized, "User not found")
	ErrForbidden     = WithStatus(http.StatusForbidden, CodeForbidden, "Insufficient role")

	ErrOwnerExists        = New(2001, "Owner already exists")
	ErrUsernameExists     = New(2002, "Username already exists")
	ErrInvalidCredentials = WithStatus(http.StatusUnauthorized, 2003, "Invalid username or password")
	ErrInvalidRefresh     = WithStatus(http.StatusUnauthorized, 2004, "Invalid refresh token")
	ErrAccountNotFound    = WithStatus(http.StatusNotFound, 2005, "User not found")
	ErrUserDisabled       = WithStatus(http.StatusUnauthorized, 4003, "User disabled")
	ErrUserLocked         = WithStatus(http.StatusUnauthorized, 4004, "User locked, retry later")
)

// 模型注册
var (
	ErrProviderNotFound = WithStatus(http.StatusNotFound, 3001, "Provider not found")
	ErrProfileExists    = New(3002, "Runtime profile name already exists")
	ErrProfileNotFound  = WithStatus(http.StatusNotFound, 3003, "Runtime profile not found")
	ErrInvalidBaseURL   = New(3004, "Invalid base URL")
	ErrModelNotFound    = WithStatus(http.StatusNotFound, 3005, "Model not found")
)

// 聊天
var (
	ErrSessionNotFound    = WithStatus(http.StatusNotFound, 4001, "Session not found")
	ErrKBRequired         = New(4002, "kb_id is required when kb_mode=kb")
	ErrAttachmentNotFound = WithStatus(http.StatusNotFound, 4003, "Attachment not found")
	ErrAttachmentNotReady = New(4004, "Attachment not sanitized")
	ErrEmptyQuery         = New(4005, "Query is empty")
	ErrNoSessionsSelected = New(4006, "No sessions selected")
	ErrUnsupportedFormat  = New(4007, "Unsupported export format")
	ErrMessageNotFound    = WithStatus(http.StatusNotFound, 4008, "Message not found")
	ErrInvalidKBMode      = New(4009, "Unsupported kb_mode")
	ErrStreamNotFound     = WithStatus(http.StatusNotFound, 4010, "No active stream")
	ErrChatMessageMissing = WithStatus(http.StatusNotFound, 4003, "Chat message not found")
	ErrAttachmentParse    = New(4011, "Attachment parse failed")
)

// 脱敏
var (
	ErrRuleType     = New(5001, "Unsupported rule type")
	ErrPIIDetected  = WithStatus(http.StatusUnprocessableEntity, 5002, "Potential PII detected; add desensitization rules first")
	ErrInvalidRegex = New(5003, "Invalid regex pattern")
	ErrRuleNotFound = WithStatus(http.StatusNotFound, 5004, "Rule not found")
)

// MCP
var (
	ErrMCPNameExists   = New(6001, "MCP server name already exists")
	ErrMCPNotFound     = WithStatus(http.StatusNotFound, 6002, "MCP server not found")
	ErrMCPInvalidBinds = New(6003, "Invalid MCP server ids")
)

// 知识库与角色
var (
	ErrKBNameExists     = New(7001, "Knowledge base name already exists")
	ErrKBNotFound       = WithStatus(http.StatusNotFound, 7002, "Knowledge base not found")
	ErrKBNotReady       = New(7003, "Knowledge base not ready")
	ErrDocumentNotFound = WithStatus(http.StatusNotFound, 7004, "Document not found")
	ErrEmptyDocument    = New(7005, "Document content is empty")
	ErrSourceMissing    = WithStatus(http.StatusNotFound, 7006, "Source file unavailable")
	ErrRoleNotFound     = WithStatus(http.StatusNotFound, 7101, "Role not found")
)

// 导出
var (
	ErrExportNotFound = WithStatus(http.StatusNotFound, 8001, "Export job not found")
	ErrExportNotReady = New(8002, "Export archive not ready")
	ErrExportTypes    = New(8003, "Unsupported export type")
)
