package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindFatal is the zero value; unknown errors are fatal.
	KindFatal Kind = iota
	// KindCandidateInvalid marks a generated candidate rejected by validation.
	KindCandidateInvalid
	// KindExecution marks a failure while running the candidate against the warehouse.
	KindExecution
	// KindVerification marks a result judged implausible after all retries.
	KindVerification
	// KindTransient marks a rate limit, timeout or other transient fault.
	KindTransient
	// KindResourceExhausted marks pool exhaustion or a gate wait timeout.
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindCandidateInvalid:
		return "candidate_invalid"
	case KindExecution:
		return "execution_failed"
	case KindVerification:
		return "verification_failed"
	case KindTransient:
		return "transient"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "fatal"
	}
}

// ErrGateTimeout is returned when a caller waits too long for a concurrency slot.
var ErrGateTimeout = NewError(KindResourceExhausted, "timed out waiting for a model slot", nil)

// Error is a classified pipeline error. Issues carries the last validation or
// verification findings when the loop gives up.
type Error struct {
	Kind    Kind
	Summary string
	Issues  []string
	Err     error
}

// NewError creates a classified error wrapping err (which may be nil).
func NewError(kind Kind, summary string, err error, issues ...string) *Error {
	return &Error{Kind: kind, Summary: summary, Issues: issues, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Summary)
	if len(e.Issues) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Issues, "; "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and summary, so sentinel values
// built with NewError work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Summary == e.Summary
}

// KindOf returns the Kind of the first *Error in err's chain, or KindFatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// IsResourceExhausted reports whether err signals pool exhaustion or gate timeout.
func IsResourceExhausted(err error) bool { return KindOf(err) == KindResourceExhausted }
