// Package flow runs the retry-budgeted resolution loop.
//
// The loop is two nested budgets. The inner loop generates a candidate and
// validates it statically, feeding validation errors back into the next
// generation. The outer loop executes the validated candidate and verifies
// the rows; a failed verification resets the per-attempt state and re-enters
// the inner loop with the issues and suggestion as feedback.
//
// Every attempt produces an explicit AttemptResult (Ok, Retryable or Fatal)
// instead of relying on errors for control flow.
package flow

import (
	"context"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/query"
)

// Generator produces one candidate per call.
type Generator interface {
	Generate(ctx context.Context, in query.GenerateInput) (*query.Candidate, error)
}

// Validator statically checks a candidate.
type Validator interface {
	Validate(sql string) query.ValidationResult
}

// Executor runs a validated candidate against the warehouse.
type Executor interface {
	Execute(ctx context.Context, sql string) (*query.Result, error)
}

// Verifier judges executed results.
type Verifier interface {
	Verify(ctx context.Context, in query.VerifyInput) core.VerificationOutcome
}

// Outcome classifies one attempt.
type Outcome int

const (
	// Ok means the attempt succeeded.
	Ok Outcome = iota
	// Retryable means the attempt failed but the budget may allow another.
	Retryable
	// Fatal ends the loop immediately.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Retryable:
		return "retryable"
	default:
		return "fatal"
	}
}

// AttemptResult is the explicit result of one inner or outer attempt.
type AttemptResult struct {
	Outcome    Outcome
	Issues     []string
	Suggestion string
	// Err is set for Fatal results.
	Err error
}

func ok() AttemptResult { return AttemptResult{Outcome: Ok} }

func retryable(suggestion string, issues ...string) AttemptResult {
	return AttemptResult{Outcome: Retryable, Issues: issues, Suggestion: suggestion}
}

func fatal(err error) AttemptResult { return AttemptResult{Outcome: Fatal, Err: err} }

// EmitFunc receives loop events. It must not block for long.
type EmitFunc func(core.Event)
