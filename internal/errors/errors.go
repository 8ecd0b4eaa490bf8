// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	// ErrDuplicateEvent marks an idempotent re-ingestion. It is not a
	// failure; callers treat it as a no-op.
	ErrDuplicateEvent = errors.New("duplicate event")

	ErrEventNotFound  = errors.New("event not found")
	ErrTaskNotFound   = errors.New("delivery task not found")
	ErrTaskNotClaimed = errors.New("task not claimed by this dispatcher")
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrRateLimited    = errors.New("rate limited")
)

// ValidationError represents a malformed input record. Events that
// fail validation are rejected and never stored.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// ChannelErrorKind classifies delivery errors returned by channel
// adapters.
type ChannelErrorKind string

const (
	ChannelRateLimited ChannelErrorKind = "rate_limited"
	ChannelAuthFailure ChannelErrorKind = "auth_failure"
	ChannelTransient   ChannelErrorKind = "transient"
	ChannelRejected    ChannelErrorKind = "rejected"
)

// ChannelError represents an error from a channel adapter.
type ChannelError struct {
	Channel string
	Kind    ChannelErrorKind
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel error [%s/%s]: %s: %v", e.Channel, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("channel error [%s/%s]: %s", e.Channel, e.Kind, e.Message)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the scheduler should re-attempt the
// delivery. Rate limits and transient network failures are retried;
// auth failures and rejections are terminal.
func (e *ChannelError) Retriable() bool {
	return e.Kind == ChannelRateLimited || e.Kind == ChannelTransient
}

// NewChannelError creates a new ChannelError.
func NewChannelError(channel string, kind ChannelErrorKind, message string, err error) *ChannelError {
	return &ChannelError{
		Channel: channel,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// StorageError represents a failure at the persistence layer. The
// pipeline stage aborts the current unit of work and resumes on the
// next scheduling pass.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [%s]: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
