package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/query"
)

var tracer = otel.Tracer("delfos/flow")

// Options configures a Resolver.
type Options struct {
	// MaxRetries is the inner generate→validate budget.
	MaxRetries int
	// MaxVerificationRetries is the outer execute→verify budget.
	MaxVerificationRetries int
	Logger                 logging.Logger
}

// DefaultOptions holds the default budgets.
var DefaultOptions = Options{
	MaxRetries:             2,
	MaxVerificationRetries: 2,
}

// Resolver turns a classified request into verified rows.
type Resolver struct {
	gen  Generator
	val  Validator
	exec Executor
	ver  Verifier
	opts Options
}

// New creates a Resolver over its four collaborators.
func New(gen Generator, val Validator, exec Executor, ver Verifier, optFns ...func(o *Options)) *Resolver {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.MaxVerificationRetries <= 0 {
		opts.MaxVerificationRetries = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Resolver{gen: gen, val: val, exec: exec, ver: ver, opts: opts}
}

// feedback carries the previous attempt's findings into the next generation.
type feedback struct {
	previousSQL string
	issues      []string
	suggestion  string
}

// Resolve runs the loop, filling st with the verified candidate and rows.
// On success st.Verification.Passed is true. A candidate that never
// validates returns KindCandidateInvalid; exhausting the outer budget returns
// KindVerification (or KindExecution when the last attempt failed to run)
// carrying the last issues. Resource exhaustion and cancellation are
// returned as is.
func (r *Resolver) Resolve(ctx context.Context, st *core.PipelineState, h hooks.HookSet, emit EmitFunc) error {
	if emit == nil {
		emit = func(core.Event) {}
	}
	start := time.Now()
	var fb feedback
	var last AttemptResult
	verification := 0

	for verification < r.opts.MaxVerificationRetries {
		verification++

		res := r.generateValid(ctx, st, h, fb, verification, emit)
		if res.Outcome != Ok {
			r.logLoop(st, verification, start, res.Err)
			return res.Err
		}

		last = r.executeAndVerify(ctx, st, verification, emit)
		switch last.Outcome {
		case Ok:
			r.logLoop(st, verification, start, nil)
			return nil
		case Fatal:
			r.logLoop(st, verification, start, last.Err)
			return last.Err
		}

		if verification == r.opts.MaxVerificationRetries {
			break
		}
		r.opts.Logger.Info("Verification failed, regenerating",
			"request_id", st.RequestID,
			"verification_attempt", verification,
			"issues", last.Issues)
		fb = feedback{previousSQL: st.SQL, issues: last.Issues, suggestion: last.Suggestion}
		st.ResetSQL()
	}

	kind := core.KindVerification
	if st.ExecError != "" {
		kind = core.KindExecution
	}
	err := core.NewError(kind,
		fmt.Sprintf("results could not be verified after %d attempts", verification),
		nil, last.Issues...)
	r.logLoop(st, verification, start, err)
	return err
}

// generateValid is the inner loop. Only Ok and Fatal are returned.
func (r *Resolver) generateValid(ctx context.Context, st *core.PipelineState, h hooks.HookSet, fb feedback, verification int, emit EmitFunc) AttemptResult {
	in := query.GenerateInput{
		Question:      st.Message,
		SchemaContext: st.SchemaContext,
		Tables:        st.SelectedTables,
		Temporality:   st.Temporality,
		PreviousSQL:   fb.previousSQL,
		Issues:        fb.issues,
		Suggestion:    fb.suggestion,
		Enrich:        func(p string) string { return h.Enrich(p, st) },
	}

	var issues []string
	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		st.Attempts++
		res := r.generateOnce(ctx, st, in, attempt, verification, emit)
		switch res.Outcome {
		case Ok:
			return res
		case Fatal:
			return res
		}
		issues = res.Issues
		in.PreviousSQL = st.SQL
		in.Issues = append(append([]string(nil), fb.issues...), res.Issues...)
		if res.Suggestion != "" {
			in.Suggestion = res.Suggestion
		}
		r.opts.Logger.Info("Candidate rejected, regenerating",
			"request_id", st.RequestID,
			"attempt", attempt,
			"issues", res.Issues)
	}
	return fatal(core.NewError(core.KindCandidateInvalid,
		fmt.Sprintf("no valid query after %d attempts", r.opts.MaxRetries), nil, issues...))
}

func (r *Resolver) generateOnce(ctx context.Context, st *core.PipelineState, in query.GenerateInput, attempt, verification int, emit EmitFunc) AttemptResult {
	ctx, span := tracer.Start(ctx, "flow.generate", trace.WithAttributes(
		attribute.Int("attempt", attempt),
		attribute.Int("verification_attempt", verification),
	))
	defer span.End()

	c, err := r.gen.Generate(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var perr *core.Error
		if errors.As(err, &perr) && perr.Kind == core.KindCandidateInvalid {
			ev := core.NewStepEvent(st.RequestID, core.StepSQLGeneration, map[string]any{"error": perr.Summary, "issues": perr.Issues}, st.Fragment(core.StepSQLGeneration))
			emitAttempt(emit, ev, attempt, verification)
			issues := perr.Issues
			if len(issues) == 0 {
				issues = []string{perr.Summary}
			}
			return retryable("", issues...)
		}
		return fatal(err)
	}

	st.SQL = c.SQL
	st.SQLTables = c.Tables
	st.Narrative = c.Summary
	emitAttempt(emit, core.NewStepEvent(st.RequestID, core.StepSQLGeneration, c, st.Fragment(core.StepSQLGeneration)), attempt, verification)

	vr := r.val.Validate(c.SQL)
	emitAttempt(emit, core.NewStepEvent(st.RequestID, core.StepSQLValidation, vr, st.Fragment(core.StepSQLValidation)), attempt, verification)
	if !vr.Valid {
		span.SetAttributes(attribute.Bool("valid", false))
		return retryable("", vr.Errors...)
	}
	span.SetAttributes(attribute.Bool("valid", true))
	return ok()
}

func (r *Resolver) executeAndVerify(ctx context.Context, st *core.PipelineState, verification int, emit EmitFunc) AttemptResult {
	ctx, span := tracer.Start(ctx, "flow.execute_verify", trace.WithAttributes(
		attribute.Int("verification_attempt", verification),
	))
	defer span.End()

	res, err := r.exec.Execute(ctx, st.SQL)
	truncated := false
	if err != nil {
		if core.IsResourceExhausted(err) || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fatal(err)
		}
		st.ExecError = err.Error()
	} else {
		st.Columns = res.Columns
		st.Rows = res.Rows
		truncated = res.Truncated
	}
	emitAttempt(emit, core.NewStepEvent(st.RequestID, core.StepSQLExecution,
		map[string]any{"row_count": len(st.Rows), "error": st.ExecError},
		st.Fragment(core.StepSQLExecution)), st.Attempts, verification)

	out := r.ver.Verify(ctx, query.VerifyInput{
		Question:  st.Message,
		SQL:       st.SQL,
		Columns:   st.Columns,
		Rows:      st.Rows,
		ExecError: err,
		Truncated: truncated,
		Entities:  st.Entities,
	})
	st.Verification = out
	emitAttempt(emit, core.NewStepEvent(st.RequestID, core.StepVerification, out, st.Fragment(core.StepVerification)), st.Attempts, verification)

	span.SetAttributes(attribute.Bool("verified", out.Passed), attribute.Int("rows", len(st.Rows)))
	if out.Passed {
		return ok()
	}
	return retryable(out.Suggestion, out.Issues...)
}

func emitAttempt(emit EmitFunc, ev core.Event, attempt, verification int) {
	ev.Attempt = attempt
	ev.VerificationAttempt = verification
	emit(ev)
}

type loopLogger interface {
	LogLoop(attempts, verificationAttempts int, dur time.Duration, success bool, err error)
}

func (r *Resolver) logLoop(st *core.PipelineState, verification int, start time.Time, err error) {
	if ll, ok := r.opts.Logger.(loopLogger); ok {
		ll.LogLoop(st.Attempts, verification, time.Since(start), err == nil, err)
		return
	}
	if err != nil {
		r.opts.Logger.Warn("Resolution loop failed", "request_id", st.RequestID, "attempts", st.Attempts, "error", err.Error())
	}
}
