package hooks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Lina-go/backend-delfos-sub000/core"
)

// FormatYearMonth renders the x axis as YYYY-MM.
const FormatYearMonth = "YYYY-MM"

// OthersCategory collects the categories cut by LimitCategories.
const OthersCategory = "Otros"

var (
	yearNames  = map[string]bool{"year": true, "año": true, "anio": true, "yr": true}
	monthNames = map[string]bool{"month": true, "mes": true, "mn": true}
	periodHint = []string{"periodo", "fecha", "yyyymm", "period"}

	singleSeries = map[string]bool{
		"tendencia_simple":    true,
		"composicion_simple":  true,
		"concentracion":       true,
		"valor_puntual":       true,
		"comparacion_directa": true,
		"ranking":             true,
	}
)

// Mapping tells the data-point builder which result column plays which role.
type Mapping struct {
	XColumn        string `json:"x_column"`
	MonthColumn    string `json:"month_column,omitempty"`
	YColumn        string `json:"y_column"`
	SeriesColumn   string `json:"series_column,omitempty"`
	CategoryColumn string `json:"category_column,omitempty"`
	XFormat        string `json:"x_format,omitempty"`
	MetricName     string `json:"metric_name,omitempty"`
}

// InferMapping picks column roles from the result shape. Year and month
// columns become a YYYY-MM x axis, the last numeric column is y, and the
// remaining text columns become series and category. Single-series shapes
// drop the series when it has at most one distinct value.
func InferMapping(rows []map[string]any, columns []string, kind, subType, metricName string) Mapping {
	m := Mapping{MetricName: metricName}
	if len(columns) == 0 {
		return m
	}

	var yearCol, monthCol string
	var numeric, text []string
	for _, c := range columns {
		lc := strings.ToLower(c)
		switch {
		case yearNames[lc] && yearCol == "":
			yearCol = c
		case monthNames[lc] && monthCol == "":
			monthCol = c
		case columnIsNumeric(rows, c):
			numeric = append(numeric, c)
		default:
			text = append(text, c)
		}
	}

	if kind == core.OutputScatter {
		m.XColumn, m.YColumn = ColumnX, ColumnY
		if contains(columns, ColumnColorGroup) {
			m.SeriesColumn = ColumnColorGroup
		}
		return m
	}

	switch {
	case yearCol != "" && monthCol != "":
		m.XColumn, m.MonthColumn, m.XFormat = yearCol, monthCol, FormatYearMonth
	case yearCol != "":
		m.XColumn = yearCol
	default:
		if p := periodColumn(numeric); p != "" {
			m.XColumn, m.XFormat = p, FormatYearMonth
			numeric = remove(numeric, p)
		} else if len(text) > 0 {
			m.XColumn, text = text[0], text[1:]
		} else if len(numeric) > 1 {
			m.XColumn, numeric = numeric[0], numeric[1:]
		}
	}

	if len(numeric) > 0 {
		m.YColumn = numeric[len(numeric)-1]
	} else if m.XColumn == "" {
		m.YColumn = columns[len(columns)-1]
	}
	if m.XColumn == "" {
		m.XColumn = columns[0]
	}

	if len(text) > 0 {
		m.SeriesColumn = text[0]
	}
	if len(text) > 1 {
		m.CategoryColumn = text[1]
	}

	if kind == core.OutputStackedBar {
		m = guardStackedAxes(m, columns)
	}
	if singleSeries[subType] && m.SeriesColumn != "" && distinct(rows, m.SeriesColumn) <= 1 {
		m.SeriesColumn, m.CategoryColumn = "", ""
	}
	return m
}

func guardStackedAxes(m Mapping, columns []string) Mapping {
	if m.SeriesColumn == "" || m.XColumn != m.SeriesColumn {
		return m
	}
	if m.CategoryColumn != "" && m.CategoryColumn != m.XColumn {
		m.XColumn, m.CategoryColumn = m.CategoryColumn, m.SeriesColumn
		return m
	}
	for _, c := range columns {
		if c != m.YColumn && c != m.XColumn {
			m.XColumn, m.CategoryColumn = c, m.SeriesColumn
			return m
		}
	}
	return m
}

// BuildDataPoints converts rows into chart points {x_value, y_value, series,
// category}. Missing series default to the metric name or "Valor", missing
// categories to the series.
func BuildDataPoints(rows []map[string]any, m Mapping) []map[string]any {
	defaultSeries := m.MetricName
	if defaultSeries == "" {
		defaultSeries = "Valor"
	}
	points := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var x string
		if m.MonthColumn != "" && m.XFormat == FormatYearMonth {
			year, _ := ToFloat(row[m.XColumn])
			month, _ := ToFloat(row[m.MonthColumn])
			x = fmt.Sprintf("%d-%02d", int(year), int(month))
		} else {
			x = formatX(row[m.XColumn], m.XFormat)
		}
		y, _ := ToFloat(row[m.YColumn])

		series := defaultSeries
		if m.SeriesColumn != "" {
			series = ToString(row[m.SeriesColumn])
		}
		category := series
		if m.CategoryColumn != "" {
			category = ToString(row[m.CategoryColumn])
		}
		points = append(points, map[string]any{
			"x_value":  x,
			"y_value":  y,
			"series":   series,
			"category": category,
		})
	}
	return points
}

func formatX(v any, format string) string {
	if format == FormatYearMonth {
		if f, ok := ToFloat(v); ok {
			n := int(f)
			return fmt.Sprintf("%d-%02d", n/100, n%100)
		}
	}
	return ToString(v)
}

// LimitCategories keeps the maxCategories-1 categories with the largest y total and
// folds the rest into one "Otros" point per x value. Values below 2 disables it.
func LimitCategories(points []map[string]any, maxCategories int) []map[string]any {
	if maxCategories < 2 {
		return points
	}
	totals := make(map[string]float64)
	var order []string
	for _, p := range points {
		c := categoryOf(p)
		if _, seen := totals[c]; !seen {
			order = append(order, c)
		}
		y, _ := ToFloat(p["y_value"])
		totals[c] += y
	}
	if len(totals) <= maxCategories {
		return points
	}

	sort.SliceStable(order, func(i, j int) bool { return totals[order[i]] > totals[order[j]] })
	top := make(map[string]bool, maxCategories-1)
	for _, c := range order[:maxCategories-1] {
		top[c] = true
	}

	out := make([]map[string]any, 0, len(points))
	others := make(map[string]map[string]any)
	var otherX []string
	for _, p := range points {
		if top[categoryOf(p)] {
			out = append(out, p)
			continue
		}
		x := ToString(p["x_value"])
		agg, ok := others[x]
		if !ok {
			agg = map[string]any{"x_value": p["x_value"], "y_value": 0.0, "series": OthersCategory, "category": OthersCategory}
			others[x] = agg
			otherX = append(otherX, x)
		}
		y, _ := ToFloat(p["y_value"])
		agg["y_value"] = agg["y_value"].(float64) + y
	}
	for _, x := range otherX {
		out = append(out, others[x])
	}
	return out
}

func categoryOf(p map[string]any) string {
	if c := ToString(p["category"]); c != "" {
		return c
	}
	if s := ToString(p["series"]); s != "" {
		return s
	}
	return "Sin categoria"
}

// ResolveDefaultOutputKind picks the representation when no hook decides:
// the sub-type's chart when a visual is wanted, else a table. A stacked bar
// without a categorical column degrades to a line.
func ResolveDefaultOutputKind(chart string, needsVisual bool, m Mapping) string {
	if !needsVisual || chart == "" || chart == core.OutputTable {
		return core.OutputTable
	}
	if chart == core.OutputStackedBar && m.SeriesColumn == "" && m.CategoryColumn == "" {
		return core.OutputLine
	}
	return chart
}

func columnIsNumeric(rows []map[string]any, col string) bool {
	seen := false
	for _, r := range rows {
		v := r[col]
		if v == nil {
			continue
		}
		if !IsNumeric(v) {
			return false
		}
		seen = true
	}
	return seen
}

func periodColumn(numeric []string) string {
	for _, c := range numeric {
		lc := strings.ToLower(c)
		for _, h := range periodHint {
			if lc == h {
				return c
			}
		}
	}
	return ""
}

func distinct(rows []map[string]any, col string) int {
	set := make(map[string]struct{})
	for _, r := range rows {
		set[ToString(r[col])] = struct{}{}
	}
	return len(set)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func remove(xs []string, s string) []string {
	out := xs[:0:0]
	for _, x := range xs {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
