package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/zsiec/viewfinder/internal/converter"
)

// ErrorType classifies API errors.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeNoFrame     ErrorType = "NO_FRAME"
	ErrorTypeConversion  ErrorType = "CONVERSION_ERROR"
	ErrorTypeEncoding    ErrorType = "ENCODING_ERROR"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
)

// AppError is an error that knows how to present itself over HTTP.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails merges details into the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewNoFrameError is returned by frame endpoints before the first frame
// has been converted.
func NewNoFrameError() *AppError {
	return New(ErrorTypeNoFrame, "no frame has been produced yet", http.StatusNotFound)
}

// NewConversionError wraps a converter failure. Conversion errors carry the
// frame sequence number and pixel format when available.
func NewConversionError(err error) *AppError {
	appErr := Wrap(err, ErrorTypeConversion, "frame conversion failed", http.StatusUnprocessableEntity).
		WithCode(converter.ReasonLabel(err))

	var convErr *converter.ConversionError
	if stderrors.As(err, &convErr) {
		appErr.WithDetails(map[string]interface{}{
			"seq":    convErr.Seq,
			"format": convErr.Format.String(),
		})
	}
	return appErr
}

// NewEncodingError wraps an image encoder failure.
func NewEncodingError(err error, format string) *AppError {
	return Wrap(err, ErrorTypeEncoding, fmt.Sprintf("failed to encode %s", format), http.StatusInternalServerError)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusRequestTimeout)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message, http.StatusTooManyRequests)
}

// NewServiceDownError reports that a dependency (pipeline, registry) is
// unavailable.
func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s is currently unavailable", service), http.StatusServiceUnavailable)
}

// GetAppError finds the first AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType reports whether err's chain holds an AppError of type t.
func IsType(err error, t ErrorType) bool {
	appErr, ok := GetAppError(err)
	return ok && appErr.Type == t
}
