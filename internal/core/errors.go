package core

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds the pipeline distinguishes.
// Per-document errors are caught at the document boundary and recorded in
// the run summary; they never abort a run.
var (
	// ErrNotFound is returned when a requested object or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat marks a document whose mime type has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptDocument marks a document the extractor could not decode.
	ErrCorruptDocument = errors.New("corrupt document")

	// ErrCommitConflict signals contention on the article's generation swap.
	// The whole commit is retried.
	ErrCommitConflict = errors.New("generation swap conflict")

	// ErrInvariantViolation signals a chunk count mismatch between an article
	// and its stored chunk set. Never silently accepted.
	ErrInvariantViolation = errors.New("chunk count invariant violated")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
func (e *transientError) Transient() bool { return true }

// Transient wraps err so IsTransient reports true for it. Used by
// collaborators to mark rate limits and network failures as retriable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is Transient(fmt.Errorf(...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsTransient reports whether err is retriable with backoff. Collaborator
// timeouts count as transient; a cancelled run does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
