// Package errs defines the error taxonomy shared by the billing and
// settlement services. Every error wraps a domain sentinel so callers can
// match with errors.Is on the sentinel or errors.As on the kind.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for transport mapping and logging.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindState       Kind = "state_error"
	KindConcurrency Kind = "concurrency_error"
)

// ValidationError reports input that cannot be priced or recorded.
type ValidationError struct {
	Err     error
	Subject string
	Detail  string
}

func (e *ValidationError) Error() string { return format(KindValidation, e.Err, e.Subject, "", e.Detail) }
func (e *ValidationError) Unwrap() error { return e.Err }

// StateError reports an operation that is illegal in the current state.
type StateError struct {
	Err     error
	Subject string
	State   string
	Detail  string
}

func (e *StateError) Error() string { return format(KindState, e.Err, e.Subject, e.State, e.Detail) }
func (e *StateError) Unwrap() error { return e.Err }

// ConcurrencyError reports a lost compare-and-swap.
type ConcurrencyError struct {
	Err     error
	Subject string
	Detail  string
}

func (e *ConcurrencyError) Error() string {
	return format(KindConcurrency, e.Err, e.Subject, "", e.Detail)
}
func (e *ConcurrencyError) Unwrap() error { return e.Err }

func Validation(sentinel error, subject, detail string) error {
	return &ValidationError{Err: sentinel, Subject: subject, Detail: detail}
}

func State(sentinel error, subject, state, detail string) error {
	return &StateError{Err: sentinel, Subject: subject, State: state, Detail: detail}
}

func Concurrency(sentinel error, subject, detail string) error {
	return &ConcurrencyError{Err: sentinel, Subject: subject, Detail: detail}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsState(err error) bool {
	var target *StateError
	return errors.As(err, &target)
}

func IsConcurrency(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}

// Describe extracts the transport-facing fields of a classified error.
// ok is false for unclassified errors.
func Describe(err error) (kind Kind, code, subject, state, detail string, ok bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindValidation, codeOf(vErr.Err), vErr.Subject, "", vErr.Detail, true
	}
	var sErr *StateError
	if errors.As(err, &sErr) {
		return KindState, codeOf(sErr.Err), sErr.Subject, sErr.State, sErr.Detail, true
	}
	var cErr *ConcurrencyError
	if errors.As(err, &cErr) {
		return KindConcurrency, codeOf(cErr.Err), cErr.Subject, "", cErr.Detail, true
	}
	return "", "", "", "", "", false
}

func codeOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func format(kind Kind, sentinel error, subject, state, detail string) string {
	var b strings.Builder
	b.WriteString(string(kind))
	if sentinel != nil {
		b.WriteString(": ")
		b.WriteString(sentinel.Error())
	}
	if subject != "" {
		fmt.Fprintf(&b, " [%s]", subject)
	}
	if state != "" {
		fmt.Fprintf(&b, " (state=%s)", state)
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}
