package domain

import (
	"errors"
	"fmt"
)

// Error codes surfaced to HTTP clients.
const (
	CodeInvalidJob     = "INVALID_JOB"
	CodeNotFound       = "NOT_FOUND"
	CodeDispatchFailed = "DISPATCH_FAILED"
	CodeStageTimeout   = "STAGE_TIMEOUT"
	CodeStageFailed    = "STAGE_FAILED"
	CodeStore          = "STORE_ERROR"
	CodeConflict       = "CONFLICT"
)

var (
	ErrInvalidJob        = errors.New("invalid job")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleWrite        = errors.New("stale job write")
	ErrDispatchFailed    = errors.New("dispatch failed")
	ErrStageTimeout      = errors.New("stage timed out")
	ErrStageFailed       = errors.New("stage failed")
)

// AppError carries a stable code alongside the wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidJob(message string) *AppError {
	return NewAppError(CodeInvalidJob, message, ErrInvalidJob)
}

func NotFound(id string) *AppError {
	return NewAppError(CodeNotFound, "job "+id+" not found", ErrJobNotFound)
}

// StageError marks a failure inside a named RunJob stage.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
