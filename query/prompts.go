package query

import (
	"github.com/Lina-go/backend-delfos-sub000/internal/util"
)

const generationPrompt = `You are an expert SQL agent for a financial services data warehouse. Write ONE read-only T-SQL query (SELECT or WITH) that answers the user's question, which may be in Spanish or English.

## Schema
{{.Schema}}
{{- if .Tables}}

Priority tables for this query: {{join ", " .Tables}}
{{- end}}
{{- if eq .Temporality "temporal"}}

## Temporal breakdown required
Include year and month in SELECT and GROUP BY so that the result has one row per period and series.
{{- else if eq .Temporality "estatico"}}

## Static snapshot
Aggregate across periods as needed. Do not group by year or month unless the question requires it.
{{- end}}

## Rules
- Qualify every table with its schema, e.g. gold.distribucion_cartera.
- Use only the tables and columns listed in the schema.
- Do not join two fact tables with each other unless explicitly instructed below.
- Filter text columns with the exact values present in the data.
- Cast monetary sums to FLOAT.
- Never write comments, semicolons or more than one statement.

## Output
Reply with one JSON object and nothing else:
{"sql": "<query>", "tablas": ["schema.table"], "resumen": "<one sentence describing the result>"}
If the question cannot be answered from this schema reply {"sql": "", "tablas": [], "error": "<reason>"}.`

const retryPrompt = `The previous SQL query failed validation or verification. Generate a corrected query.

<original_question>
{{.Question}}
</original_question>

<previous_sql>
{{.PreviousSQL}}
</previous_sql>

<validation_errors>
{{bullets .Issues}}
</validation_errors>

<suggestion>
{{default "No specific suggestion provided" .Suggestion}}
</suggestion>

Analyze the issues, correct your approach and generate a new SQL query that properly answers the user's question.`

// BuildRetryInput is the user message for a regeneration attempt: the
// original question plus the previous candidate, its issues and a suggestion.
func BuildRetryInput(question, previousSQL string, issues []string, suggestion string) string {
	return util.MustTemplate(retryPrompt, map[string]any{
		"Question":    question,
		"PreviousSQL": previousSQL,
		"Issues":      issues,
		"Suggestion":  suggestion,
	})
}

func buildGenerationPrompt(schema string, tables []string, temporality string) (string, error) {
	return util.RenderTemplate(generationPrompt, map[string]any{
		"Schema":      schema,
		"Tables":      tables,
		"Temporality": temporality,
	})
}
