// Package connector holds the HTTP adapters of the source and target
// commerce platforms, plus a seeded fake source for demos and tests.
package connector

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultMaxResponseBytes caps every response body read (10MB)
	DefaultMaxResponseBytes = 10 * 1024 * 1024
	// DefaultTimeout is the per-request timeout
	DefaultTimeout = 30 * time.Second
	// DefaultPageSize is used when a fetch does not request a page size
	DefaultPageSize = 50
)

// Configuration errors
var (
	ErrConfigMissingBaseURL = errors.New("connector: base URL is required")
	ErrConfigMissingToken   = errors.New("connector: access token is required")
)

// ClientConfig configures one platform client
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// MaxResponseBytes limits how much of a response body is read
	MaxResponseBytes int64
	// UserAgent is sent with every request
	UserAgent string
}

// Validate checks required fields and applies defaults
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrConfigMissingBaseURL
	}
	if strings.TrimSpace(c.Token) == "" {
		return ErrConfigMissingToken
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = "commerce-sync"
	}
	return nil
}
