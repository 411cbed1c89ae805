package handler

import (
	"github.com/erp/commerce-sync/internal/infrastructure/auth"
	"github.com/erp/commerce-sync/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

func (h *DLQHandler) RegisterRoutes(rg *gin.RouterGroup) {
	dlq := rg.Group("/dlq")
	dlq.GET("", h.List)
	dlq.GET("/stats", h.Stats)
	dlq.GET("/:id", h.Get)

	write := dlq.Group("", middleware.RequireScope(auth.ScopeWrite))
	write.POST("/:id/retry", h.Retry)
	write.DELETE("/:id", h.Delete)
}

func (h *CheckpointHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/checkpoints", h.List)
	rg.DELETE("/checkpoints/:entity", middleware.RequireScope(auth.ScopeWrite), h.Reset)
}

func (h *ReportHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/report", h.Get)
}
