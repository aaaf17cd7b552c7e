package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicate is returned when an image with the same fingerprint exists.
	ErrDuplicate = errors.New("duplicate image")

	ErrNotFound = errors.New("not found")

	// ErrAlreadyLiked is returned on a second like from the same source.
	ErrAlreadyLiked = errors.New("already liked")
)

// UpstreamError wraps a failure of the blob store or the database.
type UpstreamError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Upstream wraps err as an UpstreamError. Context deadline and cancellation
// are never retryable.
func Upstream(op string, err error, retryable bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		retryable = false
	}
	return &UpstreamError{Op: op, Err: err, Retryable: retryable}
}

// IsRetryable reports whether err is an UpstreamError marked retryable.
func IsRetryable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// ValidationError carries a message that is safe to show to clients.
// It matches ErrValidation under errors.Is.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
