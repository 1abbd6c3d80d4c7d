package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/frame"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrorTypeValidation, "bad width", http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR: bad width", err.Error())

	wrapped := Wrap(stderrors.New("png: invalid"), ErrorTypeEncoding, "encode failed", http.StatusInternalServerError)
	assert.Equal(t, "ENCODING_ERROR: encode failed (caused by: png: invalid)", wrapped.Error())
}

func TestAppError_WithDetailsMerges(t *testing.T) {
	err := NewValidationError("bad query").
		WithDetails(map[string]interface{}{"width": -1}).
		WithDetails(map[string]interface{}{"height": 0}).
		WithCode("BAD_SIZE")

	assert.Equal(t, -1, err.Details["width"])
	assert.Equal(t, 0, err.Details["height"])
	assert.Equal(t, "BAD_SIZE", err.Code)
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"validation", NewValidationError("x"), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("session"), ErrorTypeNotFound, http.StatusNotFound},
		{"no frame", NewNoFrameError(), ErrorTypeNoFrame, http.StatusNotFound},
		{"encoding", NewEncodingError(stderrors.New("x"), "jpeg"), ErrorTypeEncoding, http.StatusInternalServerError},
		{"internal", NewInternalError("x"), ErrorTypeInternal, http.StatusInternalServerError},
		{"timeout", NewTimeoutError("x"), ErrorTypeTimeout, http.StatusRequestTimeout},
		{"rate limit", NewRateLimitError("x"), ErrorTypeRateLimit, http.StatusTooManyRequests},
		{"service down", NewServiceDownError("registry"), ErrorTypeServiceDown, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}

	assert.Equal(t, "session not found", NewNotFoundError("session").Message)
	assert.Equal(t, "registry is currently unavailable", NewServiceDownError("registry").Message)
}

func TestNewConversionError(t *testing.T) {
	conv, err := converter.New(converter.DefaultOptions())
	require.NoError(t, err)

	_, convErr := conv.Convert(&frame.RawFrame{
		Seq: 7, Width: 4, Height: 4, Format: frame.FormatBGRA, Stride: 16, Data: make([]byte, 10),
	})
	require.Error(t, convErr)

	appErr := NewConversionError(convErr)
	assert.Equal(t, ErrorTypeConversion, appErr.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)
	assert.Equal(t, "short_buffer", appErr.Code)
	assert.Equal(t, uint64(7), appErr.Details["seq"])
	assert.Equal(t, "BGRA", appErr.Details["format"])
	assert.ErrorIs(t, appErr, converter.ErrShortBuffer)
}

func TestNewConversionError_PlainError(t *testing.T) {
	appErr := NewConversionError(stderrors.New("weird"))
	assert.Equal(t, "other", appErr.Code)
	assert.Nil(t, appErr.Details)
}

func TestGetAppError(t *testing.T) {
	base := NewNoFrameError()
	wrapped := fmt.Errorf("frame handler: %w", base)

	got, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, IsType(wrapped, ErrorTypeNoFrame))
	assert.False(t, IsType(wrapped, ErrorTypeNotFound))

	_, ok = GetAppError(stderrors.New("plain"))
	assert.False(t, ok)
	_, ok = GetAppError(nil)
	assert.False(t, ok)
}
