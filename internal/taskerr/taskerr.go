// Package taskerr classifies task failures into kinds that carry retry
// semantics for the scheduler.
package taskerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies the class of a task failure.
type Kind string

// Failure kinds.
const (
	KindConfiguration Kind = "configuration"
	KindBinding       Kind = "binding"
	KindTransfer      Kind = "transfer"
	KindExecution     Kind = "execution"
	KindStaging       Kind = "staging"
	KindCancelled     Kind = "cancelled"
	KindUnknown       Kind = "unknown"
)

// Kinds lists every failure kind, in a stable order for metric labels.
var Kinds = []Kind{
	KindConfiguration,
	KindBinding,
	KindTransfer,
	KindExecution,
	KindStaging,
	KindCancelled,
	KindUnknown,
}

// Retryable reports whether a failure of this kind may succeed if the
// scheduler re-runs the task. Configuration and staging failures need an
// operator or a code fix; everything else is treated as transient.
func (k Kind) Retryable() bool {
	switch k {
	case KindConfiguration, KindStaging:
		return false
	default:
		return true
	}
}

// Error is a classified task failure. Op names the step that failed and
// Resource the identifier it was operating on (input name, storage resource,
// container, ...).
type Error struct {
	Kind     Kind
	Op       string
	Resource string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Resource != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error.
func New(kind Kind, op, resource string, err error) *Error {
	return &Error{Kind: kind, Op: op, Resource: resource, Err: err}
}

// Configuration reports missing or invalid deployment configuration, such as
// an absent storage preference or credential.
func Configuration(op, resource string, err error) error {
	return New(KindConfiguration, op, resource, err)
}

// Binding reports a required input or output whose binding cannot be
// resolved.
func Binding(op, resource string, err error) error {
	return New(KindBinding, op, resource, err)
}

// Transfer reports a failed data movement, e.g. every replica of an input
// being unreachable.
func Transfer(op, resource string, err error) error {
	return New(KindTransfer, op, resource, err)
}

// Execution reports a sandbox that could not be created, started or awaited.
func Execution(op, resource string, err error) error {
	return New(KindExecution, op, resource, err)
}

// Staging reports a failure while publishing results.
func Staging(op, resource string, err error) error {
	return New(KindStaging, op, resource, err)
}

// KindOf returns the kind of err. Context cancellation is reported as
// KindCancelled; any other unclassified error is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Retryable reports whether err is worth retrying. Unclassified errors are
// retryable.
func Retryable(err error) bool {
	return KindOf(err).Retryable()
}
