package crawler

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category carried by every crawl failure.
type ErrorKind string

// Failure categories surfaced by the discovery engine.
const (
	KindInvalidURL           ErrorKind = "invalid_url"
	KindFetchRetryable       ErrorKind = "fetch_retryable"
	KindFetchNonRetryable    ErrorKind = "fetch_non_retryable"
	KindCircuitOpen          ErrorKind = "circuit_open"
	KindAlreadyRunning       ErrorKind = "already_running"
	KindPersistenceFailure   ErrorKind = "persistence_failure"
	KindDetectionLoadFailure ErrorKind = "detection_load_failure"
	KindInternal             ErrorKind = "internal"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrInvalidURL           = errors.New("invalid url")
	ErrFetchRetryable       = errors.New("retryable fetch failure")
	ErrFetchNonRetryable    = errors.New("non-retryable fetch failure")
	ErrCircuitOpen          = errors.New("circuit open")
	ErrAlreadyRunning       = errors.New("crawl already running")
	ErrPersistenceFailure   = errors.New("persistence failure")
	ErrDetectionLoadFailure = errors.New("detection load failure")
	ErrInternal             = errors.New("internal failure")
)

var sentinels = map[ErrorKind]error{
	KindInvalidURL:           ErrInvalidURL,
	KindFetchRetryable:       ErrFetchRetryable,
	KindFetchNonRetryable:    ErrFetchNonRetryable,
	KindCircuitOpen:          ErrCircuitOpen,
	KindAlreadyRunning:       ErrAlreadyRunning,
	KindPersistenceFailure:   ErrPersistenceFailure,
	KindDetectionLoadFailure: ErrDetectionLoadFailure,
	KindInternal:             ErrInternal,
}

// Error is a categorized failure. Status holds the upstream HTTP status when
// one was observed.
type Error struct {
	Kind   ErrorKind
	Op     string
	URL    string
	Status int
	Err    error
}

// NewError builds an *Error; err may be nil.
func NewError(kind ErrorKind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.URL != "" {
		msg += fmt.Sprintf(" (%s)", e.URL)
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the category of err, or "" when err is uncategorized.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindFetchRetryable
}
