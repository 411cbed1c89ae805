package handler

import (
	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/interfaces/http/dto"
	"github.com/erp/commerce-sync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CheckpointHandler lists and resets entity checkpoints
type CheckpointHandler struct {
	BaseHandler
	repo   checkpoint.Repository
	locker integration.EntityLocker
}

// NewCheckpointHandler creates the handler. With a locker, Reset refuses to
// touch an entity that is being migrated.
func NewCheckpointHandler(repo checkpoint.Repository, locker integration.EntityLocker) *CheckpointHandler {
	return &CheckpointHandler{repo: repo, locker: locker}
}

// List handles GET /checkpoints
func (h *CheckpointHandler) List(c *gin.Context) {
	cps, err := h.repo.List(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessList(c, cps, len(cps), int64(len(cps)))
}

// Reset handles DELETE /checkpoints/:entity
func (h *CheckpointHandler) Reset(c *gin.Context) {
	var req dto.EntityRequest
	if err := c.ShouldBindUri(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	entity, err := integration.ParseEntityType(req.Entity)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.locker != nil {
		release, err := h.locker.Acquire(ctx, entity)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		defer release()
	}
	if err := h.repo.Delete(ctx, entity); err != nil {
		h.HandleError(c, err)
		return
	}
	logger.GetGinLogger(c).Info("Checkpoint reset",
		zap.String("entity", entity.String()),
		zap.String("operator", c.GetString(middleware.SubjectKey)),
	)
	h.NoContent(c)
}
