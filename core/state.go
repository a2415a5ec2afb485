package core

// VerificationOutcome is the judgement produced once per verification attempt.
type VerificationOutcome struct {
	Passed     bool     `json:"passed"`
	Issues     []string `json:"issues,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Insight    string   `json:"insight,omitempty"`
}

// PipelineState is the per-request record. It is owned by one orchestrator
// run and is never shared between requests.
type PipelineState struct {
	RequestID string
	UserID    string
	Message   string

	// Classification.
	QueryType   string
	Intent      string
	SubType     string
	PatternType string
	Temporality string
	Title       string
	NeedsVisual bool
	IsRate      bool
	// Entities named in the question that the result must cover.
	Entities []string

	// Target selection.
	SelectedTables []string
	SchemaContext  string

	// Resolution loop.
	SQL          string
	SQLTables    []string
	Narrative    string
	Rows         []map[string]any
	Columns      []string
	ExecError    string
	Verification VerificationOutcome
	Attempts     int

	// Post-processing and output.
	Stats      any
	DataPoints []map[string]any
	OutputKind string

	Response any
}

// NewPipelineState creates the state for one inbound request.
func NewPipelineState(requestID, userID, message string) *PipelineState {
	return &PipelineState{RequestID: requestID, UserID: userID, Message: message}
}

// ResetSQL clears the candidate and its results before a verification retry.
// Classification and target selection survive.
func (s *PipelineState) ResetSQL() {
	s.SQL = ""
	s.SQLTables = nil
	s.Narrative = ""
	s.Rows = nil
	s.Columns = nil
	s.ExecError = ""
	s.Stats = nil
	s.DataPoints = nil
}

// RowCount returns the number of rows currently held.
func (s *PipelineState) RowCount() int { return len(s.Rows) }

// Fragment returns the subset of state relevant to a step, for event payloads.
func (s *PipelineState) Fragment(step string) map[string]any {
	switch step {
	case StepTriage:
		return map[string]any{"query_type": s.QueryType}
	case StepIntent:
		return map[string]any{"intent": s.Intent, "sub_type": s.SubType, "title": s.Title}
	case StepSchema:
		return map[string]any{"selected_tables": s.SelectedTables}
	case StepSQLGeneration, StepSQLValidation:
		return map[string]any{"sql": s.SQL, "tables": s.SQLTables}
	case StepSQLExecution:
		return map[string]any{"row_count": len(s.Rows), "columns": s.Columns}
	case StepVerification:
		return map[string]any{"verification_passed": s.Verification.Passed, "issues": s.Verification.Issues}
	case StepPostProcess:
		return map[string]any{"stats": s.Stats}
	case StepVisualization:
		return map[string]any{"output_kind": s.OutputKind}
	default:
		return nil
	}
}
