package query

import (
	"context"
	"strings"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/internal/util"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
)

// Candidate is the generation collaborator's structured reply.
type Candidate struct {
	SQL     string   `json:"sql"`
	Tables  []string `json:"tablas"`
	Summary string   `json:"resumen,omitempty"`
	Error   string   `json:"error,omitempty"`
}

var candidateSchema = util.MustCompileSchema("candidate", Candidate{})

// GenerateInput is everything one generation attempt sees.
type GenerateInput struct {
	Question      string
	SchemaContext string
	Tables        []string
	Temporality   string

	// Feedback from the previous attempt. Empty on the first attempt.
	PreviousSQL string
	Issues      []string
	Suggestion  string

	// Enrich appends shape-specific instructions to the system prompt.
	Enrich func(prompt string) string `json:"-"`
}

// IsRetry reports whether the input carries feedback.
func (in GenerateInput) IsRetry() bool { return len(in.Issues) > 0 }

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	// MaxSchemaTokens caps the schema context in the prompt.
	MaxSchemaTokens int
	// MaxTokens caps the reply.
	MaxTokens int64
	Logger    logging.Logger
}

// Generator turns a question into a SQL candidate through a model.
type Generator struct {
	model model.Model
	opts  GeneratorOptions
}

// NewGenerator creates a Generator over m, usually a *model.Guarded.
func NewGenerator(m model.Model, optFns ...func(o *GeneratorOptions)) *Generator {
	opts := GeneratorOptions{
		MaxSchemaTokens: 6000,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Generator{model: m, opts: opts}
}

// Generate asks the model for one candidate. Malformed replies and explicit
// refusals are KindCandidateInvalid so the caller can retry with feedback;
// model failures are returned as is.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (*Candidate, error) {
	schema := model.TruncateToTokens(in.SchemaContext, g.opts.MaxSchemaTokens)
	if len(schema) < len(in.SchemaContext) {
		g.opts.Logger.Warn("Schema context truncated", "max_tokens", g.opts.MaxSchemaTokens)
	}

	system, err := buildGenerationPrompt(schema, in.Tables, in.Temporality)
	if err != nil {
		return nil, err
	}
	if in.Enrich != nil {
		system = in.Enrich(system)
	}

	user := in.Question
	if in.IsRetry() {
		user = BuildRetryInput(in.Question, in.PreviousSQL, in.Issues, in.Suggestion)
	}

	req := model.NewRequest(system, user)
	req.JSON = true
	req.MaxTokens = g.opts.MaxTokens

	resp, err := model.Complete(ctx, g.model, req)
	if err != nil {
		return nil, err
	}

	raw, err := model.ExtractJSON(resp.Text())
	if err != nil {
		return nil, core.NewError(core.KindCandidateInvalid, "model reply is not a candidate", err,
			"The reply did not contain a JSON object with a sql field")
	}
	var c Candidate
	if err := candidateSchema.Decode(raw, &c); err != nil {
		return nil, core.NewError(core.KindCandidateInvalid, "model reply is not a candidate", err,
			"The reply JSON must contain sql (string) and tablas (array of strings)")
	}
	c.SQL = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(c.SQL), ";"))
	if c.SQL == "" && c.Error != "" {
		return nil, core.NewError(core.KindCandidateInvalid, "model declined to generate SQL", nil, c.Error)
	}
	return &c, nil
}
