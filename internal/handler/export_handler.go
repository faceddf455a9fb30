package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashwinyue/family-health/internal/middleware"
	"github.com/ashwinyue/family-health/internal/service/export"
)

// ExportHandler 数据导出任务
type ExportHandler struct {
	base
}

// Candidates 可导出内容，GET 读查询参数，POST 读任务请求体中的 filters
// GET|POST /api/v1/exports/candidates
func (h *ExportHandler) Candidates(c *gin.Context) {
	var f export.Filters
	if c.Request.Method == http.MethodPost {
		var req export.CreateRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		f = req.Filters
	} else if !bindQuery(c, &f) {
		return
	}
	res, err := h.svc.Export.Candidates(c.Request.Context(), middleware.GetUserID(c), f)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, res)
}

// CreateJob 创建导出任务
// POST /api/v1/exports/jobs
func (h *ExportHandler) CreateJob(c *gin.Context) {
	var req export.CreateRequest
	if !bindJSON(c, &req) {
		return
	}
	job, err := h.svc.Export.CreateJob(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, job)
}

// ListJobs 任务列表
// GET /api/v1/exports/jobs
func (h *ExportHandler) ListJobs(c *gin.Context) {
	list, err := h.svc.Export.ListJobs(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, items(list))
}

// GetJob 任务详情
// GET /api/v1/exports/jobs/:id
func (h *ExportHandler) GetJob(c *gin.Context) {
	job, err := h.svc.Export.GetJob(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	Success(c, job)
}

// DeleteJob 删除任务
// DELETE /api/v1/exports/jobs/:id
func (h *ExportHandler) DeleteJob(c *gin.Context) {
	if err := h.svc.Export.DeleteJob(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		h.Error(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// Download 下载归档
// GET /api/v1/exports/jobs/:id/download
func (h *ExportHandler) Download(c *gin.Context) {
	name, rc, err := h.svc.Export.Download(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		h.Error(c, err)
		return
	}
	defer rc.Close()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("write export archive", zap.String("job_id", c.Param("id")), zap.Error(err))
	}
}
