package hooks

import (
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/logging"
)

const relationshipEnrichment = `
## Two-metric scatter analysis
The question compares TWO numeric metrics over the SAME set of subjects. Return rows shaped for a
scatter plot with these exact aliases:
- label: subject name (for example NOMBRE_ENTIDAD). Always present.
- x_value: first metric, numeric. Always present.
- y_value: second metric, numeric. Always present.
- year, month: only when the user asks about evolution over time.
- color_group: a categorical breakdown, only when the user asks "por <dimension>".

Joins between fact tables are allowed when the metrics live in different tables; join on
ID_ENTIDAD, year and month. By default use only the latest period:

    WHERE (year * 100 + month) = (SELECT MAX(year * 100 + month) FROM <PRIMARY_FACT_TABLE>)

GROUP BY always includes the unit of observation (NOMBRE_ENTIDAD, plus year and month when temporal,
plus the color dimension when requested). Never group only by the color dimension.
Cast monetary sums to FLOAT and wrap both metrics in ISNULL/COALESCE. NULL metrics after a join mean
the tables have incompatible granularity; restructure the query instead.
`

// Scatter row aliases produced by relationship queries.
const (
	ColumnX          = "x_value"
	ColumnY          = "y_value"
	ColumnLabel      = "label"
	ColumnColorGroup = "color_group"
)

// RelationshipHooks returns the hooks for two-metric shapes: scatter prompt
// instructions, correlation statistics and scatter data points.
func RelationshipHooks(logger logging.Logger) HookSet {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return HookSet{
		EnrichPrompt: func(prompt string, _ *core.PipelineState) string {
			return prompt + relationshipEnrichment
		},
		PostProcess: func(rows []map[string]any, st *core.PipelineState) {
			if len(rows) == 0 {
				return
			}
			points := make([]Point, 0, len(rows))
			for _, row := range rows {
				x, y := row[ColumnX], row[ColumnY]
				if x == nil || y == nil {
					continue
				}
				points = append(points, Point{X: x, Y: y, Label: ToString(row[ColumnLabel])})
			}
			if len(points) == 0 {
				logger.Warn("No valid data points for correlation analysis", "rows", len(rows))
				return
			}
			stats := ComputeRelationshipStats(points)
			st.Stats = stats
			logger.Info("Correlation stats", "n", stats.N, "strength", stats.Strength, "warning", stats.Warning)
		},
		BuildDataPoints: BuildScatterPoints,
		ResolveOutputKind: func(string) string {
			return core.OutputScatter
		},
	}
}

// BuildScatterPoints converts relationship rows into scatter points. Rows
// with a missing or non-numeric coordinate are skipped. The series comes from
// color_group when present, otherwise from the metric name.
func BuildScatterPoints(rows []map[string]any, m Mapping) []map[string]any {
	xCol, yCol := m.XColumn, m.YColumn
	if xCol == "" {
		xCol = ColumnX
	}
	if yCol == "" {
		yCol = ColumnY
	}
	seriesCol := m.SeriesColumn
	if seriesCol == ColumnLabel {
		seriesCol = ""
	}
	defaultSeries := m.MetricName
	if defaultSeries == "" {
		defaultSeries = "Datos"
	}

	points := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		x, okx := ToFloat(row[xCol])
		y, oky := ToFloat(row[yCol])
		if row[xCol] == nil || row[yCol] == nil || !okx || !oky {
			continue
		}
		series := defaultSeries
		if g, ok := row[ColumnColorGroup]; ok && g != nil {
			series = ToString(g)
		} else if seriesCol != "" {
			series = ToString(row[seriesCol])
		}
		points = append(points, map[string]any{
			"x_value":  x,
			"y_value":  y,
			"series":   series,
			"category": series,
			"label":    ToString(row[ColumnLabel]),
		})
	}
	return points
}
