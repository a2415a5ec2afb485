package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/internal/util"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
)

// Issue texts produced by the deterministic checks.
const (
	IssueZeroRows = "Query returned 0 rows"

	suggestZeroRows = "The filters likely use values that do not exist in the data (entity names, product categories or periods). " +
		"Use the exact values present in the tables, relax overly specific filters and check the period range."
	suggestNullColumns = "Columns that are NULL in every row mean the join matched nothing: the joined tables likely have " +
		"different granularity. Answer from a single fact table or join on compatible keys (ID_ENTIDAD, year, month)."
	suggestCeiling  = "The result is too large. Aggregate (GROUP BY), restrict the period or return only the top rows."
	suggestEntities = "Some entities named in the question are missing from the result. Filter with the exact entity names " +
		"stored in the data, matching partial names with LIKE when unsure."
)

// VerifyInput is what a verification attempt judges.
type VerifyInput struct {
	Question string
	SQL      string
	Columns  []string
	Rows     []map[string]any
	// ExecError is set when execution failed; rows are then ignored.
	ExecError error
	// Truncated is set when the executor stopped reading at its row limit.
	Truncated bool
	// Entities must each appear somewhere in the rows' text values.
	Entities []string
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	// RowCeiling rejects larger results regardless of content.
	RowCeiling int
	// Model enables semantic verification. Nil uses the deterministic checks only.
	Model model.Model
	// Timeout bounds the semantic verification call.
	Timeout time.Duration
	// SampleRows caps the rows shown to the model.
	SampleRows int
	Logger     logging.Logger
}

// Verifier judges whether executed results answer the question.
type Verifier struct {
	opts VerifierOptions
}

// NewVerifier creates a Verifier.
func NewVerifier(optFns ...func(o *VerifierOptions)) *Verifier {
	opts := VerifierOptions{
		RowCeiling: 10000,
		Timeout:    10 * time.Second,
		SampleRows: 20,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Verifier{opts: opts}
}

// Verify returns the outcome for one attempt. It never fails: a failing
// semantic check falls back to the deterministic one.
func (v *Verifier) Verify(ctx context.Context, in VerifyInput) core.VerificationOutcome {
	if in.ExecError != nil {
		msg := in.ExecError.Error()
		return core.VerificationOutcome{
			Issues:     []string{"Query execution failed: " + msg},
			Suggestion: SuggestFix(msg),
			Summary:    "La consulta fallo al ejecutarse.",
		}
	}
	if len(in.Rows) == 0 {
		return core.VerificationOutcome{
			Issues:     []string{IssueZeroRows},
			Suggestion: suggestZeroRows,
			Summary:    "La consulta no devolvio filas.",
		}
	}
	if in.Truncated || (v.opts.RowCeiling > 0 && len(in.Rows) > v.opts.RowCeiling) {
		limit := v.opts.RowCeiling
		if limit <= 0 {
			limit = len(in.Rows)
		}
		return core.VerificationOutcome{
			Issues:     []string{fmt.Sprintf("Query returned more than %d rows", limit)},
			Suggestion: suggestCeiling,
			Summary:    "El resultado excede el limite de filas.",
		}
	}

	if v.opts.Model != nil {
		out, err := v.verifyWithModel(ctx, in)
		if err == nil {
			return out
		}
		v.opts.Logger.Warn("Semantic verification failed, using deterministic checks", "error", err.Error())
	}
	return v.verifyWithCode(in)
}

func (v *Verifier) verifyWithCode(in VerifyInput) core.VerificationOutcome {
	var issues []string
	var suggestions []string

	if cols := NullColumns(in.Columns, in.Rows); len(cols) > 0 {
		issues = append(issues, "Columns NULL in every row: "+strings.Join(cols, ", "))
		suggestions = append(suggestions, suggestNullColumns)
	}
	if missing := MissingEntities(in.Entities, in.Rows); len(missing) > 0 {
		issues = append(issues, "Expected entities not found in results: "+strings.Join(missing, ", "))
		suggestions = append(suggestions, suggestEntities)
	}

	if len(issues) > 0 {
		return core.VerificationOutcome{
			Issues:     issues,
			Suggestion: strings.Join(suggestions, " "),
			Summary:    "El resultado no es confiable.",
		}
	}
	return core.VerificationOutcome{
		Passed:  true,
		Summary: fmt.Sprintf("Consulta ejecutada exitosamente. Se devolvieron %d filas.", len(in.Rows)),
	}
}

// NullColumns lists the columns whose value is nil in every row.
func NullColumns(columns []string, rows []map[string]any) []string {
	if len(rows) == 0 {
		return nil
	}
	var out []string
	for _, c := range columns {
		allNull := true
		for _, r := range rows {
			if r[c] != nil {
				allNull = false
				break
			}
		}
		if allNull {
			out = append(out, c)
		}
	}
	return out
}

// MissingEntities lists the entities that no text value in rows contains,
// compared case-insensitively. Results without text values cover everything.
func MissingEntities(entities []string, rows []map[string]any) []string {
	if len(entities) == 0 {
		return nil
	}
	var texts []string
	for _, r := range rows {
		for _, val := range r {
			if s, ok := val.(string); ok {
				texts = append(texts, strings.ToLower(s))
			}
		}
	}
	if len(texts) == 0 {
		return nil
	}
	var missing []string
	for _, e := range entities {
		needle := strings.ToLower(strings.TrimSpace(e))
		if needle == "" {
			continue
		}
		found := false
		for _, t := range texts {
			if strings.Contains(t, needle) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, e)
		}
	}
	return missing
}

type modelVerdict struct {
	IsValid    bool     `json:"is_valid"`
	Issues     []string `json:"issues,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Insight    string   `json:"insight,omitempty"`
}

var verdictSchema = util.MustCompileSchema("verification", modelVerdict{})

const verificationPrompt = `You verify that the result of a SQL query answers the user's question.
Check that the rows match what was asked: the right entities, metric, period and granularity, with plausible magnitudes.
Reply with one JSON object and nothing else:
{"is_valid": true|false, "issues": ["..."], "suggestion": "how to fix the SQL", "summary": "one sentence", "insight": "one key finding"}`

func (v *Verifier) verifyWithModel(ctx context.Context, in VerifyInput) (core.VerificationOutcome, error) {
	if v.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.opts.Timeout)
		defer cancel()
	}

	sample := in.Rows
	if v.opts.SampleRows > 0 && len(sample) > v.opts.SampleRows {
		sample = sample[:v.opts.SampleRows]
	}
	rowsJSON, err := json.Marshal(sample)
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	user := fmt.Sprintf("<question>\n%s\n</question>\n\n<sql>\n%s\n</sql>\n\n<results total_rows=\"%d\">\n%s\n</results>",
		in.Question, in.SQL, len(in.Rows), rowsJSON)

	req := model.NewRequest(verificationPrompt, user)
	req.JSON = true
	resp, err := model.Complete(ctx, v.opts.Model, req)
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	raw, err := model.ExtractJSON(resp.Text())
	if err != nil {
		return core.VerificationOutcome{}, err
	}
	var verdict modelVerdict
	if err := verdictSchema.Decode(raw, &verdict); err != nil {
		return core.VerificationOutcome{}, err
	}
	out := core.VerificationOutcome{
		Passed:     verdict.IsValid,
		Issues:     verdict.Issues,
		Suggestion: verdict.Suggestion,
		Summary:    verdict.Summary,
		Insight:    verdict.Insight,
	}
	if !out.Passed && len(out.Issues) == 0 {
		out.Issues = []string{"Result judged inconsistent with the question"}
	}
	return out, nil
}
