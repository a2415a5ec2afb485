package classify

import (
	"context"
	"strings"
	"time"

	"github.com/Lina-go/backend-delfos-sub000/internal/util"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
)

type intentReply struct {
	Intent    string   `json:"intent" enum:"nivel_puntual,requiere_visualizacion"`
	SubType   string   `json:"sub_type"`
	Title     string   `json:"titulo_grafica,omitempty"`
	Entities  []string `json:"entidades,omitempty"`
	IsRate    bool     `json:"is_tasa,omitempty"`
	Reasoning string   `json:"razon,omitempty"`
}

var intentSchema = util.MustCompileSchema("intent", intentReply{})

// IntentResult is a data question's classification, with the shape already
// resolved against the sub-type table.
type IntentResult struct {
	Intent      string   `json:"intent"`
	SubType     string   `json:"sub_type"`
	PatternType string   `json:"pattern_type"`
	Temporality string   `json:"temporality"`
	Title       string   `json:"title,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	IsRate      bool     `json:"is_rate,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Blocked     bool     `json:"blocked,omitempty"`
	Fallback    bool     `json:"-"`
}

// NeedsVisual reports whether the answer should be a chart.
func (r IntentResult) NeedsVisual() bool { return r.Intent == IntentNeedsVisual }

// Chart is the sub-type's default output kind.
func (r IntentResult) Chart() string {
	st, _ := Lookup(r.SubType)
	return st.Chart
}

// IntentOptions configures an IntentClassifier.
type IntentOptions struct {
	Timeout   time.Duration
	MaxTokens int64
	Logger    logging.Logger
}

// IntentClassifier assigns a data question its intent and sub-type.
type IntentClassifier struct {
	model model.Model
	opts  IntentOptions
}

// NewIntentClassifier creates an IntentClassifier over m.
func NewIntentClassifier(m model.Model, optFns ...func(o *IntentOptions)) *IntentClassifier {
	opts := IntentOptions{
		Timeout:   5 * time.Second,
		MaxTokens: 1024,
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &IntentClassifier{model: m, opts: opts}
}

// Classify falls back to a point value on collaborator failure. Only a
// cancelled ctx is returned as an error.
func (c *IntentClassifier) Classify(ctx context.Context, question string) (IntentResult, error) {
	reply, err := c.classify(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return IntentResult{}, ctx.Err()
		}
		c.opts.Logger.Warn("Intent classification failed, defaulting to valor_puntual", "error", err)
		reply = intentReply{
			Intent:    IntentPointValue,
			SubType:   DefaultSubType,
			Reasoning: "Error in classification: " + err.Error(),
		}
		res := resolve(reply)
		res.Fallback = true
		return res, nil
	}

	res := resolve(reply)
	if res.SubType != strings.ToLower(strings.TrimSpace(reply.SubType)) {
		c.opts.Logger.Warn("Unknown sub-type, defaulting", "sub_type", reply.SubType, "default", DefaultSubType)
	}
	return res, nil
}

func (c *IntentClassifier) classify(ctx context.Context, question string) (intentReply, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	system, err := util.RenderTemplate(intentPrompt, map[string]any{
		"SubTypes": SubTypes,
		"Names":    Names(),
	})
	if err != nil {
		return intentReply{}, err
	}
	req := model.NewRequest(system, question)
	req.JSON = true
	req.MaxTokens = c.opts.MaxTokens

	resp, err := model.Complete(ctx, c.model, req)
	if err != nil {
		return intentReply{}, err
	}
	raw, err := model.ExtractJSON(resp.Text())
	if err != nil {
		return intentReply{}, err
	}
	var reply intentReply
	if err := intentSchema.Decode(raw, &reply); err != nil {
		return intentReply{}, err
	}
	return reply, nil
}

func resolve(reply intentReply) IntentResult {
	st, _ := Lookup(reply.SubType)
	return IntentResult{
		Intent:      reply.Intent,
		SubType:     st.Name,
		PatternType: st.PatternType,
		Temporality: st.Temporality,
		Title:       strings.TrimSpace(reply.Title),
		Entities:    reply.Entities,
		IsRate:      reply.IsRate,
		Reasoning:   reply.Reasoning,
		Blocked:     st.Blocked,
	}
}

const intentPrompt = `You classify financial questions written in Spanish or English.

## Intent
- nivel_puntual: the answer is a single value or a short list that reads well as a table.
- requiere_visualizacion: the answer compares, ranks, breaks down or tracks values over time and should be charted.

## Sub-types
{{- range $name := .Names}}
{{- with index $.SubTypes $name}}
- {{$name}} ({{.PatternType}}, {{.Temporality}}{{if .Blocked}}, not supported{{end}})
{{- end}}
{{- end}}

Rules:
- "cuantos" without a breakdown ("por X") is valor_puntual.
- Absolute values per category are comparacion_directa; shares of a whole are composicion_simple.
- Evolution over time is tendencia_simple or tendencia_comparada, never descomposicion_cambio.
- Two metrics plotted against each other are relacion; the same over time is covariacion.

Reply with one JSON object and nothing else:
{"intent": "nivel_puntual|requiere_visualizacion", "sub_type": "<sub-type>", "titulo_grafica": "<short chart title>", "entidades": ["<banks or segments named in the question>"], "is_tasa": false, "razon": "<short reason>"}`
