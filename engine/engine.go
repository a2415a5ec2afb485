package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/classify"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/flow"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/schema"
	"github.com/Lina-go/backend-delfos-sub000/session"
)

var tracer = otel.Tracer("delfos/engine")

// TriageClassifier picks the handler for a message.
type TriageClassifier interface {
	Classify(ctx context.Context, in classify.TriageInput) (classify.TriageResult, error)
}

// IntentClassifier assigns a data question its sub-type.
type IntentClassifier interface {
	Classify(ctx context.Context, question string) (classify.IntentResult, error)
}

// TargetSelector picks the tables a question needs.
type TargetSelector interface {
	Select(ctx context.Context, question string) (*schema.Selection, error)
}

// Resolver runs the retry-budgeted resolution loop.
type Resolver interface {
	Resolve(ctx context.Context, st *core.PipelineState, h hooks.HookSet, emit flow.EmitFunc) error
}

// Config holds the engine's operational parameters.
type Config struct {
	// EventBufferSize sets the channel buffer of streamed requests.
	EventBufferSize int
	// MaxCategories bounds the categories of a chart; the rest fold into
	// one "Otros" category. Below 2 disables folding.
	MaxCategories int
	// MaxHistoryTurns bounds the history shown to triage and handlers.
	MaxHistoryTurns int
	// PersistTimeout bounds one background persistence task.
	PersistTimeout time.Duration
}

// DefaultConfig provides the default operational parameters.
var DefaultConfig = Config{
	EventBufferSize: 64,
	MaxCategories:   8,
	MaxHistoryTurns: 10,
	PersistTimeout:  10 * time.Second,
}

// Deps are the collaborators of the engine. All are required except
// Router, which defaults to a general-only router.
type Deps struct {
	Triage   TriageClassifier
	Intent   IntentClassifier
	Schema   TargetSelector
	Resolver Resolver
	Hooks    *hooks.Registry
	Router   *HandlerRouter
	Sessions *session.Store
}

// Options configures optional engine behavior.
type Options struct {
	Config Config

	// ExactCache and SemanticCache hold verified responses. Nil disables a tier.
	ExactCache    *cache.Bounded[*Response]
	SemanticCache *cache.Semantic[*Response]

	// Persister stores conversation turns in the background and seeds the
	// history of users the process has not seen yet. Nil disables it.
	Persister session.Persister

	Callbacks *CallbackManager
	Logger    logging.Logger
}

// Request is one inbound message.
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

// Engine sequences the stages of one request (triage, intent, cache,
// schema, resolution loop, post-processing, visualization, format) and
// decides early termination. Each request gets its own PipelineState; the
// caches, the session store and the collaborators are shared.
type Engine struct {
	deps Deps
	opts Options

	activeMu sync.Mutex
	active   map[string]*activeRequest

	background sync.WaitGroup
}

// New creates an Engine.
func New(deps Deps, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if deps.Hooks == nil {
		deps.Hooks = hooks.NewRegistry(opts.Logger)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewStore(opts.Config.MaxHistoryTurns)
	}
	if deps.Router == nil {
		deps.Router = NewHandlerRouter(&GeneralHandler{Logger: opts.Logger}, opts.Logger)
	}
	return &Engine{deps: deps, opts: opts, active: make(map[string]*activeRequest)}
}

// Sessions returns the conversation store.
func (e *Engine) Sessions() *session.Store { return e.deps.Sessions }

// Process resolves one request and returns its response. Failures are
// returned as classified errors; ErrorResponse renders them.
func (e *Engine) Process(ctx context.Context, req Request) (*Response, error) {
	req = prepare(req)
	ctx, id, done := e.track(ctx, req.RequestID)
	defer done()
	req.RequestID = id
	return e.run(ctx, req, func(core.Event) {})
}

// Stream resolves one request, emitting one event per stage in order and
// ending with exactly one complete or error event. The channel is closed
// after the terminal event.
func (e *Engine) Stream(ctx context.Context, req Request) (string, <-chan core.Event) {
	req = prepare(req)
	events := make(chan core.Event, e.opts.Config.EventBufferSize)
	runCtx, id, done := e.track(ctx, req.RequestID)
	req.RequestID = id

	go func() {
		defer close(events)
		defer done()

		emit := func(ev core.Event) {
			select {
			case events <- ev:
			case <-runCtx.Done():
			}
		}
		resp, err := e.run(runCtx, req, emit)

		// The terminal event is delivered while the caller still listens,
		// even when the request itself was cancelled.
		terminal := core.NewCompleteEvent(req.RequestID, resp)
		if err != nil {
			terminal = core.NewErrorEvent(req.RequestID, err)
		}
		select {
		case events <- terminal:
		case <-ctx.Done():
		}
	}()
	return req.RequestID, events
}

// Cancel stops an in-flight request.
func (e *Engine) Cancel(requestID string) error {
	e.activeMu.Lock()
	r, ok := e.active[requestID]
	e.activeMu.Unlock()
	if !ok {
		return fmt.Errorf("request %s not found", requestID)
	}
	r.cancel()
	return nil
}

// Wait blocks until background persistence tasks have finished.
func (e *Engine) Wait() { e.background.Wait() }

func prepare(req Request) Request {
	if req.RequestID == "" {
		req.RequestID = core.NewID()
	}
	if req.UserID == "" {
		req.UserID = "anonymous"
	}
	req.Message = strings.TrimSpace(req.Message)
	return req
}

type activeRequest struct {
	cancel context.CancelFunc
}

// track registers a cancellable request. An ID that is already in flight is
// replaced by a fresh one so that Cancel always reaches exactly one request;
// the returned ID is the one registered.
func (e *Engine) track(ctx context.Context, requestID string) (context.Context, string, func()) {
	ctx, cancel := context.WithCancel(ctx)
	entry := &activeRequest{cancel: cancel}

	e.activeMu.Lock()
	if _, taken := e.active[requestID]; taken {
		fresh := core.NewID()
		e.opts.Logger.Warn("Request ID already active, assigning a new one", "request_id", requestID, "new_request_id", fresh)
		requestID = fresh
	}
	e.active[requestID] = entry
	e.activeMu.Unlock()

	return ctx, requestID, func() {
		e.activeMu.Lock()
		if e.active[requestID] == entry {
			delete(e.active, requestID)
		}
		e.activeMu.Unlock()
		cancel()
	}
}

// run executes the stages. Panics in any stage become fatal errors.
func (e *Engine) run(ctx context.Context, req Request, emit flow.EmitFunc) (resp *Response, err error) {
	st := core.NewPipelineState(req.RequestID, req.UserID, req.Message)
	logger := e.requestLogger(st)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.process", trace.WithAttributes(
		attribute.String("request.id", st.RequestID),
		attribute.String("user.id", st.UserID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, r)
			resp, err = nil, core.NewError(core.KindFatal, "pipeline error", fmt.Errorf("panic: %v", r))
		}
		cbCtx := &CallbackContext{State: st, Duration: time.Since(start), Response: resp, Err: err}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Request failed", "error", err, "kind", core.KindOf(err).String())
			e.opts.Callbacks.fire(ctx, CallbackOnError, cbCtx)
			return
		}
		if resp == nil {
			resp = NewResponse(st.QueryType, "")
		}
		resp.RequestID = st.RequestID
		span.SetAttributes(attribute.String("query.type", st.QueryType), attribute.Bool("cached", resp.Cached))
		e.opts.Callbacks.fire(ctx, CallbackOnComplete, cbCtx)
	}()

	if req.Message == "" {
		return nil, core.NewError(core.KindFatal, "message is empty", nil)
	}

	e.restore(ctx, req.UserID, logger)
	conv := e.deps.Sessions.Get(req.UserID)
	userTurn := e.deps.Sessions.AddTurn(req.UserID, session.Turn{Role: session.RoleUser, Content: req.Message})

	var tr classify.TriageResult
	err = e.stage(ctx, st, core.StepTriage, emit, func(ctx context.Context) (any, error) {
		var err error
		tr, err = e.deps.Triage.Classify(ctx, classify.TriageInput{
			Message:        req.Message,
			ContextSummary: conv.Summary(),
			History:        conv.HistorySummary(e.opts.Config.MaxHistoryTurns),
			Tables:         e.catalogTables(),
		})
		st.QueryType = tr.QueryType
		return tr, err
	})
	if err != nil {
		return nil, err
	}

	if h := e.deps.Router.Route(st.QueryType); h != nil {
		resp = h.Handle(ctx, HandlerRequest{
			Message:         req.Message,
			UserID:          req.UserID,
			Triage:          tr,
			Conversation:    conv,
			MaxHistoryTurns: e.opts.Config.MaxHistoryTurns,
		})
		if resp == nil {
			resp = NewResponse(st.QueryType, "")
		}
		if resp.Pattern == classify.QueryVizRequest && core.IsChart(resp.OutputKind) {
			e.deps.Sessions.SetOutputKind(req.UserID, resp.OutputKind, resp.DataPoints)
		}
		e.finish(ctx, st, userTurn, resp)
		return resp, nil
	}

	var intent classify.IntentResult
	err = e.stage(ctx, st, core.StepIntent, emit, func(ctx context.Context) (any, error) {
		var err error
		intent, err = e.deps.Intent.Classify(ctx, intentMessage(req.Message, conv))
		if err != nil {
			return nil, err
		}
		st.Intent = intent.Intent
		st.SubType = intent.SubType
		st.PatternType = intent.PatternType
		st.Temporality = intent.Temporality
		st.Title = intent.Title
		st.NeedsVisual = intent.NeedsVisual()
		st.IsRate = intent.IsRate
		st.Entities = intent.Entities
		return intent, nil
	})
	if err != nil {
		return nil, err
	}

	if intent.Blocked {
		resp = NewResponse(st.PatternType, fmt.Sprintf(
			"Las preguntas de tipo %q (%s) aún no están soportadas. Puedo ayudarte con comparaciones, rankings, composiciones, tendencias y relaciones entre métricas.",
			st.SubType, st.PatternType))
		resp.SubType = st.SubType
		e.finish(ctx, st, userTurn, resp)
		return resp, nil
	}

	key := CacheKey(req.Message, st.SubType)
	vec := e.embedQuestion(ctx, req.Message, logger)
	if hit := e.lookup(key, vec, st.SubType); hit != nil {
		logger.Info("Cache hit", "sub_type", st.SubType)
		resp = hit.clone()
		resp.Cached = true
		e.remember(req, resp)
		e.finish(ctx, st, userTurn, resp)
		return resp, nil
	}

	err = e.stage(ctx, st, core.StepSchema, emit, func(ctx context.Context) (any, error) {
		sel, err := e.deps.Schema.Select(ctx, req.Message)
		if err != nil {
			return nil, err
		}
		st.SelectedTables = sel.Tables
		st.SchemaContext = sel.Context
		return sel, nil
	})
	if err != nil {
		return nil, err
	}

	set := e.deps.Hooks.Get(st.SubType)
	if err := e.deps.Resolver.Resolve(ctx, st, set, emit); err != nil {
		return nil, err
	}

	err = e.stage(ctx, st, core.StepPostProcess, emit, func(context.Context) (any, error) {
		ran := set.Post(st.Rows, st)
		return map[string]any{"applied": ran}, nil
	})
	if err != nil {
		return nil, err
	}

	var mapping hooks.Mapping
	err = e.stage(ctx, st, core.StepVisualization, emit, func(context.Context) (any, error) {
		mapping = e.visualize(st, set)
		return map[string]any{"output_kind": st.OutputKind, "mapping": mapping, "points": len(st.DataPoints)}, nil
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, st, core.StepFormat, emit, func(context.Context) (any, error) {
		resp = format(st, mapping)
		return map[string]any{"insight": resp.Insight}, nil
	})
	if err != nil {
		return nil, err
	}

	if st.Verification.Passed {
		e.store(key, req.Message, vec, resp)
	}
	e.remember(req, resp)
	e.finish(ctx, st, userTurn, resp)
	return resp, nil
}

// stage runs one named stage inside a span, firing callbacks and emitting
// the stage event on success.
func (e *Engine) stage(ctx context.Context, st *core.PipelineState, step string, emit flow.EmitFunc, fn func(ctx context.Context) (any, error)) error {
	ctx, span := tracer.Start(ctx, "engine."+step)
	defer span.End()

	e.opts.Callbacks.fire(ctx, CallbackBeforeStage, &CallbackContext{State: st, Step: step})
	start := time.Now()
	result, err := fn(ctx)
	dur := time.Since(start)
	e.logStep(st, step, dur, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	e.opts.Callbacks.fire(ctx, CallbackAfterStage, &CallbackContext{State: st, Step: step, Duration: dur})
	emit(core.NewStepEvent(st.RequestID, step, result, st.Fragment(step)))
	return nil
}

// visualize picks the output kind and builds chart points.
func (e *Engine) visualize(st *core.PipelineState, set hooks.HookSet) hooks.Mapping {
	sub, _ := classify.Lookup(st.SubType)
	kind := set.OutputKind(st.SubType)
	mappingKind := kind
	if mappingKind == "" {
		mappingKind = sub.Chart
	}
	m := hooks.InferMapping(st.Rows, st.Columns, mappingKind, st.SubType, "")
	if kind == "" {
		kind = hooks.ResolveDefaultOutputKind(sub.Chart, st.NeedsVisual, m)
	}
	st.OutputKind = kind
	if core.IsChart(kind) && len(st.Rows) > 0 {
		st.DataPoints = hooks.LimitCategories(set.DataPoints(st.Rows, m), e.opts.Config.MaxCategories)
	}
	return m
}

// finish records the assistant turn and persists both turns in the
// background.
func (e *Engine) finish(ctx context.Context, st *core.PipelineState, userTurn session.Turn, resp *Response) {
	userTurn.QueryType = st.QueryType
	text := resp.Insight
	if text == "" {
		text = resp.ClarificationQuestion
	}
	assistant := e.deps.Sessions.AddTurn(st.UserID, session.Turn{
		Role:      session.RoleAssistant,
		Content:   text,
		QueryType: st.QueryType,
		HadVisual: resp.Visual == VisualYes,
		Tables:    resp.Tables,
	})
	e.persist(ctx, st.UserID, userTurn, assistant)
}

// remember keeps a data answer's rows for follow-ups.
func (e *Engine) remember(req Request, resp *Response) {
	if len(resp.Data) == 0 {
		return
	}
	e.deps.Sessions.Update(req.UserID, session.Snapshot{
		Query:       req.Message,
		SQL:         resp.SQL,
		Rows:        resp.Data,
		Columns:     resp.Columns,
		Tables:      resp.Tables,
		OutputKind:  resp.OutputKind,
		Title:       resp.Title,
		Temporality: resp.Temporality,
		DataPoints:  resp.DataPoints,
	})
}

// persist writes turns on a detached context. The foreground response never
// waits for it; Wait drains outstanding tasks.
func (e *Engine) persist(ctx context.Context, userID string, turns ...session.Turn) {
	if e.opts.Persister == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(bg, e.opts.Config.PersistTimeout)
		defer cancel()
		if err := e.opts.Persister.SaveTurns(ctx, userID, turns...); err != nil {
			e.opts.Logger.Warn("Background persistence failed", "user_id", userID, "error", err)
		}
	}()
}

// restore loads persisted turns for a user with no in-memory conversation.
func (e *Engine) restore(ctx context.Context, userID string, logger logging.Logger) {
	if e.opts.Persister == nil || e.deps.Sessions.Has(userID) {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.Config.PersistTimeout)
	defer cancel()
	turns, err := e.opts.Persister.LoadTurns(ctx, userID, e.deps.Sessions.MaxHistoryTurns()*2)
	if err != nil {
		logger.Warn("Conversation restore failed", "user_id", userID, "error", err)
		return
	}
	if len(turns) > 0 {
		e.deps.Sessions.Restore(userID, turns)
	}
}

func (e *Engine) catalogTables() []string {
	if s, ok := e.deps.Schema.(interface{ Catalog() *schema.Catalog }); ok && s.Catalog() != nil {
		return s.Catalog().Names()
	}
	return nil
}

type stepLogger interface {
	LogStep(step string, dur time.Duration, success bool, err error)
}

func (e *Engine) logStep(st *core.PipelineState, step string, dur time.Duration, err error) {
	if l, ok := e.requestLogger(st).(stepLogger); ok {
		l.LogStep(step, dur, err == nil, err)
		return
	}
	if err != nil {
		e.opts.Logger.Warn("Step failed", "step", step, "request_id", st.RequestID, "error", err)
	}
}

type stackLogger interface {
	ErrorWithStack(err error, msg string)
}

func logPanic(logger logging.Logger, r any) {
	err := fmt.Errorf("panic: %v", r)
	if l, ok := logger.(stackLogger); ok {
		l.ErrorWithStack(err, "Pipeline panic")
		return
	}
	logger.Error("Pipeline panic", "error", err, "stack_trace", string(debug.Stack()))
}

func (e *Engine) requestLogger(st *core.PipelineState) logging.Logger {
	if pl, ok := e.opts.Logger.(*logging.PipelineLogger); ok {
		return pl.WithRequest(st.RequestID, st.UserID)
	}
	return e.opts.Logger
}

// intentMessage prefixes the previous question when the conversation has one,
// so elliptical questions keep their temporal framing.
func intentMessage(message string, conv *session.Conversation) string {
	if conv == nil || conv.LastQuery == "" || conv.LastTemporality == "" {
		return message
	}
	return fmt.Sprintf("## Contexto de conversación\nPregunta anterior: %q\nClasificación temporal anterior: %s\n\n## Pregunta actual\n%s",
		conv.LastQuery, conv.LastTemporality, message)
}

// IsCancelled reports whether err comes from a cancelled or expired request.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
