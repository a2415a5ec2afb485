package query

import "strings"

type fixRule struct {
	markers    []string
	suggestion string
}

var fixRules = []fixRule{
	{
		markers:    []string{"arithmetic overflow", "overflow"},
		suggestion: "Arithmetic overflow: cast aggregated monetary columns to FLOAT, e.g. SUM(CAST(col AS FLOAT)), instead of INT or BIGINT.",
	},
	{
		markers:    []string{"invalid column name", "invalid object name", "no such column", "no such table"},
		suggestion: "A column or table name does not exist. Verify every identifier against the schema context and use the exact spelling shown there.",
	},
	{
		markers:    []string{"conversion failed", "error converting", "cannot convert", "datatype mismatch"},
		suggestion: "Type conversion failed. Cast or compare values with matching types explicitly, e.g. CAST(col AS FLOAT) or quote text literals.",
	},
	{
		markers:    []string{"divide by zero"},
		suggestion: "Division by zero. Guard every denominator with NULLIF(denominator, 0).",
	},
	{
		markers:    []string{"timeout", "timed out", "deadline exceeded"},
		suggestion: "The query timed out. Narrow the time window (for example the last 12 months), filter earlier and aggregate before joining.",
	},
	{
		markers:    []string{"ambiguous column", "ambiguous"},
		suggestion: "Ambiguous column reference. Qualify every column with its table alias.",
	},
}

// SuggestFix maps backend error text to guidance for the next generation
// attempt.
func SuggestFix(errText string) string {
	lower := strings.ToLower(errText)
	for _, r := range fixRules {
		for _, m := range r.markers {
			if strings.Contains(lower, m) {
				return r.suggestion
			}
		}
	}
	return "The query failed with: " + errText + ". Rewrite the query addressing this error."
}
