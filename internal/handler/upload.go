package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/family-health/internal/apperr"
)

// maxUploadBytes 单个上传文件上限
const maxUploadBytes = 32 << 20

// upload 读取 multipart 中的 file 字段
type upload struct {
	Name        string
	ContentType string
	Data        []byte
}

var errTooLarge = apperr.WithStatus(http.StatusRequestEntityTooLarge, apperr.CodeInvalidParams, "File too large")

func readUpload(c *gin.Context) (*upload, bool) {
	// 预留 1MB 给 multipart 头和其他字段
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			Fail(c, errTooLarge)
			return nil, false
		}
		InvalidParams(c, fmt.Errorf("file: %w", err))
		return nil, false
	}
	if fh.Size > maxUploadBytes {
		Fail(c, errTooLarge)
		return nil, false
	}
	f, err := fh.Open()
	if err != nil {
		InvalidParams(c, err)
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		InvalidParams(c, err)
		return nil, false
	}
	return &upload{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}, true
}
