package client

import (
	"errors"
	"fmt"
	"regexp"
)

// MsgAuthExpired 登录失效后统一返回的提示
const MsgAuthExpired = "authentication expired, please sign in again"

// ErrNoSession 本地没有可用的登录会话
var ErrNoSession = errors.New("no active session")

// refreshable 服务端 401 中可以通过刷新令牌恢复的提示
var refreshable = regexp.MustCompile(`(?i)missing bearer token|invalid token|invalid token type|user not found|not authenticated|invalid authentication credentials|unauthorized`)

// APIError 服务端返回的失败响应
type APIError struct {
	Status  int
	Code    int
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (code %d, trace %s): %s", e.Status, e.Code, e.TraceID, e.Message)
}

// IsCode 判断错误是否为指定业务码的 APIError
func IsCode(err error, code int) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == code
}
