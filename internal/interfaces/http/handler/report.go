package handler

import (
	"time"

	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// ReportHandler serves the reconciliation report
type ReportHandler struct {
	BaseHandler
	svc *pipeline.ReportService
}

func NewReportHandler(svc *pipeline.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// Get handles GET /report?since=&include_dry_run=
func (h *ReportHandler) Get(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	opts := pipeline.ReportOptions{IncludeDryRun: req.IncludeDryRun}
	if req.Since != "" {
		since, err := time.Parse(time.RFC3339, req.Since)
		if err != nil {
			h.BadRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		opts.Since = &since
	}

	report, err := h.svc.Build(c.Request.Context(), opts)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
