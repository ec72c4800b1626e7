package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers never see raw broker errors.
type ErrorKind string

const (
	ErrorInvalidRequest       ErrorKind = "INVALID_REQUEST"
	ErrorBrokerUnreachable    ErrorKind = "BROKER_UNREACHABLE"
	ErrorAuthenticationFailed ErrorKind = "AUTHENTICATION_FAILED"
	ErrorTopicNotFound        ErrorKind = "TOPIC_NOT_FOUND"
	ErrorRecordDecode         ErrorKind = "RECORD_DECODE"
	ErrorCacheIO              ErrorKind = "CACHE_IO"
	ErrorExportInterrupted    ErrorKind = "EXPORT_INTERRUPTED"
)

// EngineError is the structured failure detail attached to FAILED sessions
// and interrupted exports.
type EngineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewError wraps err with an operation name and a kind.
func NewError(kind ErrorKind, op string, err error) *EngineError {
	return &EngineError{Kind: kind, Op: op, Err: err}
}

// Errorf builds an EngineError from a format string.
func Errorf(kind ErrorKind, op string, format string, args ...any) *EngineError {
	return &EngineError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain; empty when none.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}
