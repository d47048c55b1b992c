package gateway

import (
	"github.com/c360/v2xstreams/errors"
)

// Config holds configuration for the query API
type Config struct {
	// Port to listen on; 0 picks a free port
	Port int `json:"port"`

	// RateLimit is the sustained request rate per second across all clients
	RateLimit float64 `json:"rate_limit"`

	// Burst is the number of requests allowed above RateLimit at once
	Burst int `json:"burst"`

	// EnableCORS enables CORS headers (default: false, requires explicit cors_origins)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (required when EnableCORS is true)
	// Use ["*"] for development only
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// MaxRequestSize limits request body size in bytes (default: 64KB)
	MaxRequestSize int64 `json:"max_request_size,omitempty"`
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"port must be between 0 and 65535")
	}

	if c.RateLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_limit must be positive")
	}
	if c.Burst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"burst must be at least 1")
	}

	// Validate max request size
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}

	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 64 * 1024
	}

	if c.MaxRequestSize > 10*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 10MB")
	}

	// CORS requires explicit origin configuration for security
	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		RateLimit:      100,
		Burst:          10,
		EnableCORS:     false, // Disabled by default (requires explicit configuration)
		CORSOrigins:    []string{},
		MaxRequestSize: 64 * 1024,
	}
}
