package classify

import (
	"context"
	"strings"
	"time"

	"github.com/Lina-go/backend-delfos-sub000/internal/util"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
)

// Query types produced by triage.
const (
	QueryData          = "data_question"
	QueryGreeting      = "greeting"
	QueryFollowUp      = "follow_up"
	QueryVizRequest    = "viz_request"
	QueryGeneral       = "general"
	QueryOutOfScope    = "out_of_scope"
	QueryClarification = "needs_clarification"
)

// QueryTypes lists every triage category.
var QueryTypes = []string{
	QueryData, QueryGreeting, QueryFollowUp, QueryVizRequest,
	QueryGeneral, QueryOutOfScope, QueryClarification,
}

// TriageResult is the triage collaborator's reply.
type TriageResult struct {
	QueryType string `json:"query_type"`
	Reasoning string `json:"reasoning,omitempty"`
	// Clarification is the question to put back to the user.
	Clarification string `json:"clarification,omitempty"`
	// OutputKind is the chart requested by a viz_request.
	OutputKind string `json:"output_kind,omitempty"`
	// Fallback marks a result produced without a usable reply.
	Fallback bool `json:"-"`
}

var triageSchema = util.MustCompileSchema("triage", TriageResult{})

// TriageInput is what triage sees about the conversation.
type TriageInput struct {
	Message string
	// ContextSummary describes the data from the previous answer, if any.
	ContextSummary string
	// History is the recent conversation rendered as text.
	History string
	// Tables are the catalog table names, to tell data questions from
	// out-of-scope ones.
	Tables []string
}

// TriageOptions configures a Triage classifier.
type TriageOptions struct {
	Timeout   time.Duration
	MaxTokens int64
	Logger    logging.Logger
}

// Triage decides which handler answers a message.
type Triage struct {
	model model.Model
	opts  TriageOptions
}

// NewTriage creates a Triage classifier over m.
func NewTriage(m model.Model, optFns ...func(o *TriageOptions)) *Triage {
	opts := TriageOptions{
		Timeout:   5 * time.Second,
		MaxTokens: 512,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Triage{model: m, opts: opts}
}

// Classify never fails: any collaborator error or malformed reply yields a
// data_question so the request still reaches the resolution loop. Only a
// cancelled ctx is returned as an error.
func (t *Triage) Classify(ctx context.Context, in TriageInput) (TriageResult, error) {
	res, err := t.classify(ctx, in)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return TriageResult{}, ctx.Err()
	}
	t.opts.Logger.Warn("Triage failed, defaulting to data_question", "error", err)
	return TriageResult{
		QueryType: QueryData,
		Reasoning: "Error in classification, defaulting to data_question",
		Fallback:  true,
	}, nil
}

func (t *Triage) classify(ctx context.Context, in TriageInput) (TriageResult, error) {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	system, err := util.RenderTemplate(triagePrompt, map[string]any{
		"QueryTypes":     QueryTypes,
		"Tables":         in.Tables,
		"ContextSummary": in.ContextSummary,
		"History":        in.History,
	})
	if err != nil {
		return TriageResult{}, err
	}

	req := model.NewRequest(system, in.Message)
	req.JSON = true
	req.MaxTokens = t.opts.MaxTokens

	resp, err := model.Complete(ctx, t.model, req)
	if err != nil {
		return TriageResult{}, err
	}
	raw, err := model.ExtractJSON(resp.Text())
	if err != nil {
		return TriageResult{}, err
	}
	var res TriageResult
	if err := triageSchema.Decode(raw, &res); err != nil {
		return TriageResult{}, err
	}
	res.QueryType = strings.ToLower(strings.TrimSpace(res.QueryType))
	// A follow-up without earlier data cannot be answered from context.
	if res.QueryType == QueryFollowUp && in.ContextSummary == "" {
		res.QueryType = QueryData
	}
	return res, nil
}

const triagePrompt = `You are the triage step of a financial data assistant. Classify the user's message into exactly one query type: {{join ", " .QueryTypes}}.

- data_question: asks for figures that can be computed from the warehouse tables{{if .Tables}} ({{join ", " .Tables}}){{end}}.
- greeting: a greeting, thanks or small talk.
- general: a question about the assistant itself or general knowledge that needs no data.
- out_of_scope: asks for data the warehouse does not hold.
- needs_clarification: a data question too ambiguous to answer; put the question to ask back in "clarification".
- viz_request: asks to show the previous result as a different chart; put the requested chart (bar, pie, line, stackedbar, scatter, table) in "output_kind".
{{- if .ContextSummary}}
- follow_up: can be answered DIRECTLY from the data already available below. A question that introduces a new metric or dimension is a data_question.

## Data already available
{{.ContextSummary}}
{{- end}}
{{- if .History}}

## Conversation history
{{.History}}
{{- end}}

Reply with one JSON object and nothing else:
{"query_type": "<type>", "reasoning": "<short reason>", "clarification": "", "output_kind": ""}`
