package converter

import (
	"errors"
	"fmt"

	"github.com/zsiec/viewfinder/internal/frame"
)

var (
	// ErrEmptyBuffer is returned for frames without pixel data
	ErrEmptyBuffer = errors.New("empty buffer")
	// ErrUnsupportedFormat is returned for pixel formats the converter does not know
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	// ErrInvalidDimensions is returned for non-positive width or height
	ErrInvalidDimensions = errors.New("invalid dimensions")
	// ErrShortBuffer is returned when the buffer is smaller than the frame geometry
	ErrShortBuffer = errors.New("buffer shorter than frame geometry")
)

// ConversionError describes a raw frame that could not be converted. Callers
// drop the frame and keep going.
type ConversionError struct {
	Seq    uint64
	Format frame.PixelFormat
	Reason error
	Detail string
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert frame %d (%s): %v", e.Seq, e.Format, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the sentinel reason.
func (e *ConversionError) Unwrap() error {
	return e.Reason
}

// ReasonLabel returns a short, metric-friendly label for err.
func ReasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrEmptyBuffer):
		return "empty_buffer"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrInvalidDimensions):
		return "invalid_dimensions"
	case errors.Is(err, ErrShortBuffer):
		return "short_buffer"
	}
	return "other"
}

func newConversionError(raw *frame.RawFrame, reason error, detail string) *ConversionError {
	return &ConversionError{
		Seq:    raw.Seq,
		Format: raw.Format,
		Reason: reason,
		Detail: detail,
	}
}
