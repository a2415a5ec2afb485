package engine

import (
	"errors"

	"github.com/Lina-go/backend-delfos-sub000/core"
)

// Visual flags as rendered in responses.
const (
	VisualYes = "SI"
	VisualNo  = "NO"
)

// Response is what a request resolves to, whichever path answered it.
type Response struct {
	RequestID string `json:"request_id"`
	// Pattern is the query type for handler answers and the pattern type for
	// data answers.
	Pattern    string           `json:"patron"`
	SubType    string           `json:"sub_type,omitempty"`
	Data       []map[string]any `json:"datos"`
	Columns    []string         `json:"columnas,omitempty"`
	Visual     string           `json:"visualizacion"`
	OutputKind string           `json:"tipo_grafica,omitempty"`
	Title      string           `json:"titulo_grafica,omitempty"`
	DataPoints []map[string]any `json:"data_points,omitempty"`
	MetricName string           `json:"metric_name,omitempty"`
	IsRate     bool             `json:"is_tasa"`
	Insight    string           `json:"insight,omitempty"`
	SQL        string           `json:"sql_query,omitempty"`
	Stats      any              `json:"stats_summary,omitempty"`
	Error      string           `json:"error,omitempty"`
	Issues     []string         `json:"issues,omitempty"`
	RowCount   int              `json:"row_count"`
	Attempts   int              `json:"attempts,omitempty"`
	Verified   bool             `json:"verified"`
	Cached     bool             `json:"cached"`
	Tables     []string         `json:"tablas,omitempty"`
	// Temporality is the question's temporal framing, kept for follow-ups.
	Temporality string `json:"temporalidad,omitempty"`

	NeedsClarification    bool   `json:"needs_clarification"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
}

// NewResponse creates a text-only response.
func NewResponse(pattern, insight string) *Response {
	return &Response{
		Pattern: pattern,
		Data:    []map[string]any{},
		Visual:  VisualNo,
		Insight: insight,
	}
}

// clone returns a shallow copy that can be marked and re-addressed without
// touching the cached original.
func (r *Response) clone() *Response {
	out := *r
	return &out
}

// ErrorResponse converts err into a structured response.
func ErrorResponse(requestID string, err error) *Response {
	resp := NewResponse("error", "")
	resp.RequestID = requestID
	resp.Error = err.Error()
	var perr *core.Error
	if errors.As(err, &perr) {
		resp.Issues = perr.Issues
		resp.Insight = perr.Summary
	}
	return resp
}
