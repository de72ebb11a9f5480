// Package errors provides the structured error system for preview
// resolution, with typed failure kinds, per-error detail maps, and
// recoverability hints that drive tier-fallback decisions.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorType classifies a terminal preview failure.
type ErrorType string

const (
	// TypeFileIO indicates a disk read or write failure in the cache tier.
	TypeFileIO ErrorType = "FILE_IO"

	// TypeDecode indicates corrupted cache metadata or payload bytes.
	TypeDecode ErrorType = "DECODE"

	// TypeTimeout indicates the per-request deadline was exceeded.
	TypeTimeout ErrorType = "TIMEOUT"

	// TypeCancelled is the terminal state of a cancelled request. It is not
	// surfaced as a hard error, only as a distinct non-delivery.
	TypeCancelled ErrorType = "CANCELLED"

	// TypeInternal indicates an unexpected or programmer error.
	TypeInternal ErrorType = "INTERNAL"

	// TypeCacheMiss and TypeCacheExpired are disk-cache-internal outcomes.
	// They are always recoverable and trigger fallback to the generator
	// rather than reaching subscribers.
	TypeCacheMiss    ErrorType = "CACHE_MISS"
	TypeCacheExpired ErrorType = "CACHE_EXPIRED"
)

// PreviewError represents a structured preview failure with context.
type PreviewError struct {
	RequestID   string                 `json:"request_id,omitempty"`
	Type        ErrorType              `json:"type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Recoverable bool                   `json:"recoverable"`
	Timestamp   time.Time              `json:"timestamp"`

	// Cause is the underlying error, not serialized.
	Cause error `json:"-"`
}

// New creates a preview error with defaults for the given type
func New(errType ErrorType, message string) *PreviewError {
	return &PreviewError{
		Type:        errType,
		Message:     message,
		Details:     make(map[string]interface{}),
		Recoverable: IsRecoverableByDefault(errType),
		Timestamp:   time.Now(),
	}
}

// Newf creates a preview error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *PreviewError {
	return New(errType, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.RequestID, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for error-wrapping compatibility.
func (e *PreviewError) Unwrap() error {
	return e.Cause
}

// Is matches preview errors by type (for errors.Is compatibility).
func (e *PreviewError) Is(target error) bool {
	if pe, ok := target.(*PreviewError); ok {
		return e.Type == pe.Type
	}
	return false
}

// String returns a detailed representation for logging.
func (e *PreviewError) String() string {
	parts := []string{
		fmt.Sprintf("Type=%s", e.Type),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Recoverable {
		parts = append(parts, "Recoverable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("PreviewError{%s}", strings.Join(parts, ", "))
}

// WithRequestID tags the error with the request it terminates
func (e *PreviewError) WithRequestID(id string) *PreviewError {
	e.RequestID = id
	return e
}

// WithDetail attaches a key/value pair to the error's detail map
func (e *PreviewError) WithDetail(key string, value interface{}) *PreviewError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error
func (e *PreviewError) WithCause(cause error) *PreviewError {
	e.Cause = cause
	return e
}

// IsRecoverableByDefault reports whether an error type allows the caller to
// fall back or retry. Cache misses and expirations always regenerate; I/O,
// decode, and timeout failures regenerate on the next request; internal
// errors do not.
func IsRecoverableByDefault(errType ErrorType) bool {
	switch errType {
	case TypeCacheMiss, TypeCacheExpired, TypeFileIO, TypeDecode, TypeTimeout:
		return true
	default:
		return false
	}
}

// TypeOf returns the preview error type of err, or TypeInternal when err is
// not a PreviewError.
func TypeOf(err error) ErrorType {
	if pe, ok := err.(*PreviewError); ok {
		return pe.Type
	}
	return TypeInternal
}

// IsCacheMiss reports whether err is a disk-cache miss
func IsCacheMiss(err error) bool {
	return TypeOf(err) == TypeCacheMiss
}

// IsCacheExpired reports whether err is a disk-cache expiration
func IsCacheExpired(err error) bool {
	return TypeOf(err) == TypeCacheExpired
}
