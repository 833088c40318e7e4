package converter

import (
	"errors"
	"fmt"

	"github.com/harliandi/go-imgfit/pkg/codec"
	"github.com/harliandi/go-imgfit/pkg/progress"
)

// Kind classifies a CompressionError.
type Kind string

const (
	KindValidation Kind = "validation"
	KindCodec      Kind = "codec"
	KindExecution  Kind = "execution"
	KindInternal   Kind = "internal"
)

var (
	// ErrEmptyInput is returned when no image bytes were provided
	ErrEmptyInput = errors.New("no file provided")
	// ErrFileTooLarge is returned when the file exceeds the size limit
	ErrFileTooLarge = errors.New("file size exceeds limit")
	// ErrUnsupportedType is returned when the declared MIME type is not accepted
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrUnsupportedOutput is returned when the requested output format cannot be encoded
	ErrUnsupportedOutput = errors.New("unsupported output format")
	// ErrInvalidOptions is returned for out-of-range options
	ErrInvalidOptions = errors.New("invalid options")
	// ErrInvalidImageDimensions is returned when image dimensions are invalid
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	// ErrImageTooLarge is returned when image dimensions exceed limits
	ErrImageTooLarge = errors.New("image dimensions exceed maximum allowed")

	// ErrPoolBusy is returned when the worker pool is at capacity
	ErrPoolBusy = errors.New("worker pool is busy, please retry later")
	// ErrPoolUnavailable is returned when the worker pool is missing or stopped
	ErrPoolUnavailable = errors.New("worker pool unavailable")
	// ErrWorkerCrashed is returned when a worker panics while running a job
	ErrWorkerCrashed = errors.New("worker crashed")
)

// CompressionError is the error type returned to callers of Compress for
// every failure except cancellation.
type CompressionError struct {
	Kind       Kind
	Message    string
	Suggestion string
	Err        error
}

func (e *CompressionError) Error() string {
	return e.Message
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// ExecutionContextError reports that the isolated execution context could
// not run a job. Compress recovers from it by running inline.
type ExecutionContextError struct {
	JobID string
	Err   error
}

func (e *ExecutionContextError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("execution context: %v", e.Err)
	}
	return fmt.Sprintf("execution context (job %s): %v", e.JobID, e.Err)
}

func (e *ExecutionContextError) Unwrap() error {
	return e.Err
}

func validationError(err error, suggestion, format string, args ...any) *CompressionError {
	return &CompressionError{
		Kind:       KindValidation,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: suggestion,
		Err:        err,
	}
}

// wrap converts an engine or execution failure into a CompressionError.
// Cancellation and errors that are already CompressionErrors pass through.
func wrap(err error) error {
	if err == nil || progress.IsCancelled(err) {
		return err
	}
	var ce *CompressionError
	if errors.As(err, &ce) {
		return err
	}

	var cerr *codec.Error
	if errors.As(err, &cerr) {
		msg := fmt.Sprintf("Compression failed: could not %s %s", cerr.Op, describe(cerr.MIMEType))
		if cerr.Op == "encode" {
			msg += fmt.Sprintf(" at %dx%d", cerr.Width, cerr.Height)
		}
		return &CompressionError{
			Kind:       KindCodec,
			Message:    fmt.Sprintf("%s: %v", msg, cerr.Err),
			Suggestion: "Check that the file is a valid image, or try a different output format.",
			Err:        err,
		}
	}

	var xerr *ExecutionContextError
	if errors.As(err, &xerr) {
		return &CompressionError{
			Kind:       KindExecution,
			Message:    fmt.Sprintf("Compression failed: %v", err),
			Suggestion: "Retry the request, or disable parallel execution.",
			Err:        err,
		}
	}

	return &CompressionError{
		Kind:       KindInternal,
		Message:    fmt.Sprintf("Compression failed: %v", err),
		Suggestion: "Retry the request. If the problem persists, try a different output format.",
		Err:        err,
	}
}

func describe(mimeType string) string {
	if mimeType == "" {
		return "image"
	}
	return mimeType
}
