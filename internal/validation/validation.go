// Package validation provides input validation middleware for the API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 10000

// idRegex validates resource IDs (prefix_hex, e.g. bk_a1b2c3).
var idRegex = regexp.MustCompile(`^[a-z]{2,4}_[a-f0-9]{8,64}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string looks like one of our resource IDs
// (prefix_hex as produced by idgen).
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// ValidID checks if a field is a well-formed resource ID
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "is not a valid resource ID"}
		}
		return nil
	}
}

// SanitizeString removes dangerous characters and limits length.
// A maxLen of 0 or beyond MaxStringLength falls back to MaxStringLength.
func SanitizeString(s string, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxStringLength {
		maxLen = MaxStringLength
	}
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// PositiveAmount checks that an amount in pence is positive
func PositiveAmount(field string, pence int64) func() *ValidationError {
	return func() *ValidationError {
		if pence <= 0 {
			return &ValidationError{Field: field, Message: "must be a positive amount in pence"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}
