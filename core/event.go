package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Step names used in streamed events. Stage events appear in pipeline order and
// every stream ends with exactly one of StepComplete or StepError.
const (
	StepTriage        = "triage"
	StepIntent        = "intent"
	StepSchema        = "schema"
	StepSQLGeneration = "sql_generation"
	StepSQLValidation = "sql_validation"
	StepSQLExecution  = "sql_execution"
	StepVerification  = "verification"
	StepPostProcess   = "post_process"
	StepVisualization = "viz"
	StepFormat        = "format"
	StepComplete      = "complete"
	StepError         = "error"
)

// Event is the unit streamed to clients while a request is resolved. After
// emission it should be treated as immutable. It captures:
//   - Correlation (RequestID, ID)
//   - The step name and its result payload
//   - A fragment of the pipeline state relevant to that step
//   - Retry bookkeeping for loop steps (Attempt, VerificationAttempt)
//   - Error metadata for the terminal error event
//
// Result may be nil for control events. Timestamp is UTC.
type Event struct {
	ID                  string         `json:"id"`
	RequestID           string         `json:"request_id"`
	Step                string         `json:"step"`
	Timestamp           time.Time      `json:"timestamp"`
	Result              any            `json:"result,omitempty"`
	State               map[string]any `json:"state,omitempty"`
	Attempt             int            `json:"attempt,omitempty"`
	VerificationAttempt int            `json:"verification_attempt,omitempty"`
	ErrorCode           *string        `json:"error_code,omitempty"`
	ErrorMessage        *string        `json:"error_message,omitempty"`
}

// NewEvent creates a bare event for a step bound to a request.
func NewEvent(requestID, step string) Event {
	return Event{
		ID:        NewID(),
		RequestID: requestID,
		Step:      step,
		Timestamp: time.Now().UTC(),
	}
}

// NewStepEvent creates a stage event carrying a result and a state fragment.
func NewStepEvent(requestID, step string, result any, state map[string]any) Event {
	e := NewEvent(requestID, step)
	e.Result = result
	e.State = state
	return e
}

// NewCompleteEvent terminates a stream with the final response.
func NewCompleteEvent(requestID string, response any) Event {
	e := NewEvent(requestID, StepComplete)
	e.Result = response
	return e
}

// NewErrorEvent terminates a stream with a structured error. The error code is
// the Kind of err; unknown errors report KindFatal.
func NewErrorEvent(requestID string, err error) Event {
	e := NewEvent(requestID, StepError)
	if err == nil {
		err = errors.New("unknown error")
	}
	code := KindOf(err).String()
	msg := err.Error()
	e.ErrorCode = &code
	e.ErrorMessage = &msg
	var perr *Error
	if errors.As(err, &perr) && len(perr.Issues) > 0 {
		e.Result = map[string]any{"issues": perr.Issues, "summary": perr.Summary}
	}
	return e
}

// NewID generates a new unique identifier for events and requests.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event closes a stream.
func (e Event) IsTerminal() bool { return e.Step == StepComplete || e.Step == StepError }

// IsError reports whether the event is the terminal error event.
func (e Event) IsError() bool { return e.Step == StepError }
