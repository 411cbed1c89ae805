// Package handler implements the admin API endpoints.
package handler

import (
	"errors"
	"net/http"

	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/interfaces/http/dto"
	"github.com/erp/commerce-sync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

func (h *BaseHandler) SuccessList(c *gin.Context, data any, count int, total int64) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, count, total))
}

func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response carrying the request ID
func (h *BaseHandler) Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewErrorResponse(code, message, c.GetString(middleware.RequestIDKey)))
}

func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// HandleError maps a service error onto a status code. Unexpected errors are
// logged and reported without their details.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, deadletter.ErrNotFound):
		h.NotFound(c, "Dead letter entry not found")
	case errors.Is(err, integration.ErrUnknownEntity):
		h.BadRequest(c, err.Error())
	case errors.Is(err, integration.ErrEntityLocked):
		h.Error(c, http.StatusConflict, dto.ErrCodeConflict, err.Error())
	case errors.Is(err, pipeline.ErrRetryUnavailable):
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeUnavailable, "Reprocessing is not configured on this server")
	case errors.Is(err, integration.ErrUnauthorized):
		h.Error(c, http.StatusBadGateway, dto.ErrCodeUpstream, "Target platform rejected the credentials")
	default:
		logger.GetGinLogger(c).Error("Request failed", zap.Error(err))
		_ = c.Error(err)
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Internal server error")
	}
}
