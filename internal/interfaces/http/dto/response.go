// Package dto defines the request and response shapes of the admin API.
package dto

import (
	"time"

	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
)

// Error codes
const (
	ErrCodeBadRequest  = "BAD_REQUEST"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeConflict    = "CONFLICT"
	ErrCodeInternal    = "INTERNAL_ERROR"
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUpstream    = "UPSTREAM_REJECTED"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Meta carries list counts
type Meta struct {
	Total int64 `json:"total"`
	Count int   `json:"count"`
}

func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewListResponse wraps a page of results together with the unpaged total
func NewListResponse(data any, count int, total int64) Response {
	return Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Total: total, Count: count},
	}
}

func NewErrorResponse(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// DLQListRequest holds the query parameters of GET /dlq
type DLQListRequest struct {
	Entity string `form:"entity"`
	Kind   string `form:"kind"`
	// Since is RFC 3339.
	Since string `form:"since"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// Filter converts the request into a repository filter
func (r DLQListRequest) Filter() (deadletter.Filter, error) {
	f := deadletter.Filter{Limit: r.Limit}
	if r.Limit == 0 {
		f.Limit = 100
	}
	if r.Entity != "" {
		entity, err := integration.ParseEntityType(r.Entity)
		if err != nil {
			return f, err
		}
		f.Entity = entity
	}
	if r.Kind != "" {
		kind, err := deadletter.ParseErrorKind(r.Kind)
		if err != nil {
			return f, err
		}
		f.Kind = kind
	}
	if r.Since != "" {
		since, err := time.Parse(time.RFC3339, r.Since)
		if err != nil {
			return f, err
		}
		f.Since = &since
	}
	return f, nil
}

// ReportRequest holds the query parameters of GET /report
type ReportRequest struct {
	Since         string `form:"since"`
	IncludeDryRun bool   `form:"include_dry_run"`
}

// IDRequest represents a request with an ID path parameter
type IDRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// EntityRequest represents a request with an entity path parameter
type EntityRequest struct {
	Entity string `uri:"entity" binding:"required"`
}
