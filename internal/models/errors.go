package models

import (
	"errors"
	"fmt"
)

// Error kinds used across the ingestion pipeline. Callers classify with
// errors.Is; messages wrap these sentinels with context.
var (
	// ErrValidation marks rejected input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers both missing resources and resources owned by a
	// different user. Ownership failures deliberately look identical to
	// missing resources.
	ErrNotFound = errors.New("not found")

	// ErrIllegalState marks an operation invalid for the resource's current
	// lifecycle state, such as starting a completed task.
	ErrIllegalState = errors.New("illegal state")

	// ErrIntegrity marks a verification failure after a write, such as an
	// object store read-back hash mismatch. Never retried; always escalated.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrTransient marks backend failures that are safe to retry.
	ErrTransient = errors.New("transient backend error")

	// ErrCASConflict is returned by compare-and-set updates whose expected
	// status no longer matches.
	ErrCASConflict = errors.New("status compare-and-set conflict")

	// ErrNoText marks extraction that completed without recoverable text.
	ErrNoText = errors.New("no recoverable text")

	// ErrCancelled marks work abandoned because its task was cancelled.
	ErrCancelled = errors.New("task cancelled")
)

// NoTextMessage is the user-facing explanation recorded on documents that
// yield no text. It names likely causes without naming any tooling.
const NoTextMessage = "no text could be extracted: the file may be scanned, password-protected, or corrupted"

// ValidationError wraps a field-level rejection.
func ValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundError reports a missing or foreign-owned resource.
func NotFoundError(resource, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// IllegalStateError reports an operation rejected for lifecycle reasons.
func IllegalStateError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}

// TransientError wraps a retryable backend failure.
func TransientError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsRetryable reports whether err should be handed to a retry policy.
// Validation, integrity, and state errors are terminal by definition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrIllegalState) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCancelled) {
		return false
	}
	return errors.Is(err, ErrTransient)
}
