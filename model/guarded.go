package model

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/retry"
)

var tracer = otel.Tracer("delfos/model")

// CallLogger is implemented by loggers that record model calls.
type CallLogger interface {
	LogLLMCall(model string, tokens int, dur time.Duration, success bool, err error)
}

// GuardedOptions configures a Guarded model.
type GuardedOptions struct {
	// Limiter is the process-wide gate shared by every guarded model.
	Limiter *core.ConcurrencyLimiter
	// Retry is applied to transient failures.
	Retry retry.Policy
	// Timeout bounds each attempt. Zero means no per-call timeout.
	Timeout time.Duration
	Logger  logging.Logger
}

// Guarded wraps a Model so that every call holds a limiter slot, retries
// transient failures and is bounded by a per-attempt timeout.
type Guarded struct {
	inner Model
	opts  GuardedOptions
}

// NewGuarded wraps inner.
func NewGuarded(inner Model, optFns ...func(o *GuardedOptions)) *Guarded {
	opts := GuardedOptions{
		Retry:  retry.DefaultPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Guarded{inner: inner, opts: opts}
}

// WithTimeout returns a copy of g using a different per-attempt timeout.
func (g *Guarded) WithTimeout(d time.Duration) *Guarded {
	cp := *g
	cp.opts.Timeout = d
	return &cp
}

// Generate implements Model.
func (g *Guarded) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		resp, err := g.Complete(ctx, req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- *resp
	}()
	return respCh, errCh
}

// Complete runs one guarded call and returns the final response.
func (g *Guarded) Complete(ctx context.Context, req Request) (*Response, error) {
	info := g.inner.Info()
	ctx, span := tracer.Start(ctx, "model.complete", trace.WithAttributes(
		attribute.String("model.name", info.Name),
		attribute.String("model.provider", info.Provider),
	))
	defer span.End()

	start := time.Now()
	resp, err := retry.Run(ctx, g.opts.Retry, func(ctx context.Context) (*Response, error) {
		var out *Response
		err := g.opts.Limiter.Do(ctx, func(ctx context.Context) error {
			callCtx := ctx
			if g.opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
				defer cancel()
			}
			r, err := Complete(callCtx, g.inner, req)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
		return out, err
	})
	dur := time.Since(start)

	tokens := 0
	if resp != nil {
		if resp.Usage != nil {
			tokens = resp.Usage.TotalTokens
		} else {
			tokens = estimateTokens(req) + CountTokens(resp.Text())
		}
	}
	if cl, ok := g.opts.Logger.(CallLogger); ok {
		cl.LogLLMCall(info.Name, tokens, dur, err == nil, err)
	} else if err != nil {
		g.opts.Logger.Warn("LLM call failed", "model", info.Name, "duration", dur, "error", err)
	}

	span.SetAttributes(attribute.Int("model.tokens", tokens))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return resp, nil
}

// Info implements Model.
func (g *Guarded) Info() Info { return g.inner.Info() }

func estimateTokens(req Request) int {
	n := CountTokens(req.Instructions)
	for _, c := range req.Contents {
		n += CountTokens(c.Text())
	}
	return n
}
