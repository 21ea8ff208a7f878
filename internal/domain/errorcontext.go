package domain

import (
	"fmt"
	"runtime/debug"
	"time"
)

// ErrorContext is the uniform fail-with-kind record every engine produces at
// its failure site. It is immutable once created and safe to hand to
// multiple readers (recovery coordinator history, logging sinks, UI event
// channels).
type ErrorContext struct {
	Component string
	Operation string
	Message   string
	Code      string
	Severity  Severity
	Timestamp time.Time
	Stack     string
	Metadata  map[string]any
}

// NewErrorContext captures a failure at its origin. Stack is filled in from
// debug.Stack() so the coordinator's error history retains enough to
// diagnose after the fact without re-running the failing operation.
func NewErrorContext(component, operation, code string, severity Severity, err error) ErrorContext {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ErrorContext{
		Component: component,
		Operation: operation,
		Message:   msg,
		Code:      code,
		Severity:  severity,
		Timestamp: time.Now(),
		Stack:     string(debug.Stack()),
		Metadata:  make(map[string]any),
	}
}

// WithMetadata returns a copy of ctx with an additional metadata key. Used at
// construction time (before the ErrorContext is published) since the type is
// otherwise immutable.
func (e ErrorContext) WithMetadata(key string, value any) ErrorContext {
	cp := e
	cp.Metadata = make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata[key] = value
	return cp
}

func (e ErrorContext) String() string {
	return fmt.Sprintf("[%s] %s.%s: %s (code=%s)", e.Severity, e.Component, e.Operation, e.Message, e.Code)
}
