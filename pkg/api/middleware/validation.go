package middleware

import (
	"crypto/rand"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ValidatorConfig holds request-payload validation configuration for job
// creation requests. AllowedJobTypes is a defense-in-depth allow-list
// checked before a request ever reaches the dispatcher, which
// independently rejects any type with no registered handler.
type ValidatorConfig struct {
	MaxBodySize     int64    // Maximum request body size in bytes
	AllowedJobTypes []string // Empty means any type is accepted at this layer
	MaxJobTypeLen   int      // Maximum length of the type field
	MaxDataBytes    int      // Maximum size of a job's opaque data payload
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:   1 << 20, // 1MB
		MaxJobTypeLen: 128,
		MaxDataBytes:  256 << 10, // 256KB
	}
}

// Validator performs request validation
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateJobType checks that the requested job type is well-formed and,
// when an allow-list is configured, present in it.
func (v *Validator) ValidateJobType(jobType string) error {
	if jobType == "" {
		return &ValidationError{Field: "type", Message: "type is required"}
	}
	if len(jobType) > v.config.MaxJobTypeLen {
		return &ValidationError{Field: "type", Message: "type exceeds maximum length"}
	}
	if len(v.config.AllowedJobTypes) == 0 {
		return nil
	}
	for _, allowed := range v.config.AllowedJobTypes {
		if jobType == allowed {
			return nil
		}
	}
	return &ValidationError{Field: "type", Message: "invalid job type"}
}

// ValidateData checks that the opaque payload doesn't exceed the
// configured size. The data itself is never inspected — it's opaque to
// the core, per the job model.
func (v *Validator) ValidateData(data []byte) error {
	if len(data) > v.config.MaxDataBytes {
		return &ValidationError{Field: "data", Message: "data exceeds maximum size"}
	}
	return nil
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prevent MIME type sniffing
		c.Header("X-Content-Type-Options", "nosniff")
		// Prevent clickjacking
		c.Header("X-Frame-Options", "DENY")
		// Enable XSS filter
		c.Header("X-XSS-Protection", "1; mode=block")
		// Strict Transport Security (enable in production with HTTPS)
		// c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		
		c.Next()
	}
}

// RequestIDMiddleware adds request ID for tracing
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// generateRequestID creates a simple request ID
func generateRequestID() string {
	// Simple implementation - in production use UUID or similar
	return "req-" + randomString(16)
}

// randomString generates a random alphanumeric string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b)
}
