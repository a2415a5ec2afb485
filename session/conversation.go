package session

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	// MaxContextRows bounds the rows kept from the last answer.
	MaxContextRows = 100

	maxTurnChars       = 300
	maxValuesPerColumn = 8
	maxColumnsShown    = 10
	maxValueChars      = 50
)

// Turn is one message in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	QueryType string    `json:"query_type,omitempty"`
	HadVisual bool      `json:"had_visual,omitempty"`
	Tables    []string  `json:"tables,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is what a successful data answer leaves behind for follow-ups.
type Snapshot struct {
	Query       string
	SQL         string
	Rows        []map[string]any
	Columns     []string
	Tables      []string
	OutputKind  string
	Title       string
	Temporality string
	DataPoints  []map[string]any
}

// Conversation is one user's context: the last data answer and a sliding
// window of turns.
type Conversation struct {
	UserID string `json:"user_id"`
	Turns  []Turn `json:"turns"`

	LastQuery       string           `json:"last_query,omitempty"`
	LastSQL         string           `json:"last_sql,omitempty"`
	LastRows        []map[string]any `json:"last_rows,omitempty"`
	LastColumns     []string         `json:"last_columns,omitempty"`
	LastTables      []string         `json:"last_tables,omitempty"`
	LastOutputKind  string           `json:"last_output_kind,omitempty"`
	LastTitle       string           `json:"last_title,omitempty"`
	LastTemporality string           `json:"last_temporality,omitempty"`
	LastDataPoints  []map[string]any `json:"last_data_points,omitempty"`
}

// HasData reports whether a previous answer's rows are available.
func (c *Conversation) HasData() bool { return c != nil && len(c.LastRows) > 0 }

// Clone returns a copy that shares no slices with c. Row maps are shared;
// they are never mutated after Update.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Turns = append([]Turn(nil), c.Turns...)
	out.LastRows = append([]map[string]any(nil), c.LastRows...)
	out.LastColumns = append([]string(nil), c.LastColumns...)
	out.LastTables = append([]string(nil), c.LastTables...)
	out.LastDataPoints = append([]map[string]any(nil), c.LastDataPoints...)
	return &out
}

// Summary describes the data from the last answer: the question, the row
// count, the columns and a sample of values per column. Empty without data.
func (c *Conversation) Summary() string {
	if !c.HasData() {
		return ""
	}

	columns := c.LastColumns
	if len(columns) == 0 {
		for k := range c.LastRows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}
	if len(columns) > maxColumnsShown {
		columns = columns[:maxColumnsShown]
	}

	lines := []string{
		fmt.Sprintf("Pregunta anterior: %q", c.LastQuery),
		fmt.Sprintf("Filas de datos: %d", len(c.LastRows)),
		"Columnas: " + strings.Join(columns, ", "),
		"",
		"Valores disponibles por columna:",
	}
	for _, col := range columns {
		seen := map[string]bool{}
		var values []string
		for _, row := range c.LastRows {
			v, ok := row[col]
			if !ok || v == nil || len(values) >= maxValuesPerColumn {
				continue
			}
			s := truncate(fmt.Sprint(v), maxValueChars)
			if !seen[s] {
				seen[s] = true
				values = append(values, s)
			}
		}
		sort.SliceStable(values, func(i, j int) bool {
			ni, nj := isNumber(values[i]), isNumber(values[j])
			if ni != nj {
				return ni
			}
			return values[i] < values[j]
		})
		preview := values
		if len(preview) > 5 {
			preview = preview[:5]
		}
		line := fmt.Sprintf("  - %s: [%s", col, strings.Join(preview, ", "))
		if len(values) > 5 {
			line += fmt.Sprintf(" ... (+%d mas)", len(values)-5)
		}
		lines = append(lines, line+"]")
	}
	return strings.Join(lines, "\n")
}

// HistorySummary renders the last maxTurns exchanges for a prompt.
func (c *Conversation) HistorySummary(maxTurns int) string {
	if c == nil || len(c.Turns) == 0 {
		return ""
	}
	turns := c.Turns
	if n := maxTurns * 2; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	lines := []string{"## Historial de Conversacion Reciente"}
	for _, t := range turns {
		label := "Asistente"
		if t.Role == RoleUser {
			label = "Usuario"
		}
		line := fmt.Sprintf("- **%s**: %s", label, truncate(t.Content, maxTurnChars))
		if t.QueryType != "" {
			line += " [" + t.QueryType + "]"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
