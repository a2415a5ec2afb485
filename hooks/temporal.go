package hooks

import "github.com/Lina-go/backend-delfos-sub000/core"

const temporalEnrichment = `
## Default time range for temporal questions
When the question does not name a period ("ultimos 3 meses", "en 2024", "desde enero",
"entre X y Y"), restrict the result to the LAST 12 MONTHS available in the fact table.

Every CTE and subquery that reads the fact table must carry the filter, not only the final SELECT:

    WHERE (year * 100 + month) >= (
        SELECT MAX(year * 100 + month) - 100 FROM <FACT_TABLE>
    )

Replace <FACT_TABLE> with the fact table actually queried (for example gold.distribucion_cartera).
Return year and month as separate columns so the series can be plotted per period.
Never return the full history unless the user explicitly asks for it.
`

// TemporalHooks returns the hooks for trend and evolution shapes: a 12-month
// default window appended to the generation prompt.
func TemporalHooks() HookSet {
	return HookSet{
		EnrichPrompt: func(prompt string, _ *core.PipelineState) string {
			return prompt + temporalEnrichment
		},
	}
}
