package handler

import (
	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/interfaces/http/dto"
	"github.com/erp/commerce-sync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DLQHandler exposes dead letter inspection and reprocessing
type DLQHandler struct {
	BaseHandler
	svc *pipeline.DLQService
}

func NewDLQHandler(svc *pipeline.DLQService) *DLQHandler {
	return &DLQHandler{svc: svc}
}

// List handles GET /dlq?entity=&kind=&since=&limit=
func (h *DLQHandler) List(c *gin.Context) {
	var req dto.DLQListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	filter, err := req.Filter()
	if err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	entries, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	total := stats.Total
	if filter.Entity != "" {
		total = stats.ByEntity[filter.Entity]
	}
	h.SuccessList(c, entries, len(entries), total)
}

// Stats handles GET /dlq/stats
func (h *DLQHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// Get handles GET /dlq/:id
func (h *DLQHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	entry, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Retry handles POST /dlq/:id/retry. A failed reprocess is still a 200: the
// outcome carries the updated entry.
func (h *DLQHandler) Retry(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	outcome, err := h.svc.Retry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.GetGinLogger(c).Info("Dead letter entry retried",
		zap.String("entry_id", id.String()),
		zap.Bool("resolved", outcome.Resolved),
		zap.String("operator", c.GetString(middleware.SubjectKey)),
	)
	h.Success(c, outcome)
}

// Delete handles DELETE /dlq/:id
func (h *DLQHandler) Delete(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	logger.GetGinLogger(c).Info("Dead letter entry deleted",
		zap.String("entry_id", id.String()),
		zap.String("operator", c.GetString(middleware.SubjectKey)),
	)
	h.NoContent(c)
}

func (h *DLQHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, "id must be a UUID")
		return uuid.Nil, false
	}
	return uuid.MustParse(req.ID), true
}
