package errors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "VALIDATION_ERROR"
	ErrorTypeUnauthorized    ErrorType = "UNAUTHORIZED"
	ErrorTypeNotFound        ErrorType = "NOT_FOUND"
	ErrorTypeUpstream        ErrorType = "UPSTREAM_ERROR"
	ErrorTypeStorageDegraded ErrorType = "STORAGE_DEGRADED"
	ErrorTypeInternal        ErrorType = "INTERNAL_SERVER_ERROR"
)

// CustomError carries the HTTP status and type an error maps to.
type CustomError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Internal   error
}

func (e *CustomError) Error() string {
	return e.Message
}

func (e *CustomError) Unwrap() error {
	return e.Internal
}

func newError(errType ErrorType, message string, statusCode int, internal error) *CustomError {
	return &CustomError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCode,
		Internal:   internal,
	}
}

// NewValidationError reports a missing or malformed request field.
func NewValidationError(message string) *CustomError {
	return newError(ErrorTypeValidation, message, http.StatusBadRequest, nil)
}

func NewUnauthorizedError(message string) *CustomError {
	return newError(ErrorTypeUnauthorized, message, http.StatusUnauthorized, nil)
}

// NewNotFoundError reports an unknown session or card.
func NewNotFoundError(message string) *CustomError {
	return newError(ErrorTypeNotFound, message, http.StatusNotFound, nil)
}

// NewUpstreamError wraps a failure of the text-generation API.
func NewUpstreamError(message string, internal error) *CustomError {
	return newError(ErrorTypeUpstream, message, http.StatusInternalServerError, internal)
}

// NewStorageDegradedError reports a persistence write that did not land.
func NewStorageDegradedError(message string, internal error) *CustomError {
	return newError(ErrorTypeStorageDegraded, message, http.StatusInternalServerError, internal)
}

func NewInternalError(internal error) *CustomError {
	return NewInternalErrorWithMessage("Lỗi máy chủ nội bộ", internal)
}

func NewInternalErrorWithMessage(message string, internal error) *CustomError {
	return newError(ErrorTypeInternal, message, http.StatusInternalServerError, internal)
}

// As returns the CustomError in err's chain, if any.
func As(err error) (*CustomError, bool) {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr, true
	}
	return nil, false
}

func IsType(err error, errType ErrorType) bool {
	customErr, ok := As(err)
	return ok && customErr.Type == errType
}

// HandleError writes err as a JSON error response. Anything that is not a
// CustomError becomes a 500.
func HandleError(c *gin.Context, err error) {
	customErr, ok := As(err)
	if !ok {
		customErr = NewInternalError(err)
	}

	if customErr.StatusCode >= http.StatusInternalServerError {
		log.Error().
			Err(customErr.Internal).
			Str("type", string(customErr.Type)).
			Str("url", c.Request.URL.String()).
			Msg(customErr.Message)
	}

	c.JSON(customErr.StatusCode, gin.H{
		"success": false,
		"error":   customErr.Message,
		"type":    customErr.Type,
	})
}
