// Package blockvaulterrors defines the error taxonomy shared by every
// blockvault component. Callers dispatch on kind (via errors.As) to decide
// whether to retry, surface to the user, or abort the process.
package blockvaulterrors

import "fmt"

// Kind identifies a taxonomy bucket from the error handling design.
type Kind string

const (
	KindUsage         Kind = "usage_error"
	KindConfiguration Kind = "configuration_error"
	KindInputData     Kind = "input_data_error"
	KindAlreadyLocked Kind = "already_locked"
	KindScrubbing     Kind = "scrubbing_error"
	KindInternal      Kind = "internal_error"
)

// Error is the common shape for every taxonomy member: a kind, a message,
// and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: KindUsage}) style matching on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Usagef builds a UsageError: caller-supplied argument is invalid.
func Usagef(format string, args ...any) *Error { return newErr(KindUsage, format, args...) }

// Configurationf builds a ConfigurationError: rejected by schema or internally inconsistent.
func Configurationf(format string, args ...any) *Error {
	return newErr(KindConfiguration, format, args...)
}

// InputDataf builds an InputDataError: source IO returned unexpected data.
func InputDataf(format string, args ...any) *Error { return newErr(KindInputData, format, args...) }

// AlreadyLockedf builds an AlreadyLocked error: lock acquisition collided.
func AlreadyLockedf(format string, args ...any) *Error {
	return newErr(KindAlreadyLocked, format, args...)
}

// Scrubbingf builds a ScrubbingError: mismatch discovered during scrub or restore verification.
func Scrubbingf(format string, args ...any) *Error { return newErr(KindScrubbing, format, args...) }

// Internalf builds an InternalError: invariant violated, process should terminate.
func Internalf(format string, args ...any) *Error { return newErr(KindInternal, format, args...) }

// Wrap attaches a cause to a taxonomy error without losing its kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newErr(kind, format, args...)
	e.Cause = cause
	return e
}

// KindOf extracts the Kind from err, returning ok=false if err is not (or
// does not wrap) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := as(err, &e); ok {
		return e.Kind, true
	}
	return "", false
}

// as walks err's single Unwrap() error chain looking for an *Error.
// Errors that wrap several causes through Unwrap() []error are not
// searched.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps a Kind to a process exit code for cmd/blockvault.
func ExitCode(kind Kind) int {
	switch kind {
	case KindUsage:
		return 2
	case KindConfiguration:
		return 3
	case KindInputData:
		return 4
	case KindAlreadyLocked:
		return 5
	case KindScrubbing:
		return 6
	case KindInternal:
		return 70
	default:
		return 1
	}
}
