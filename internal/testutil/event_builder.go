package testutil

import (
	"time"

	"github.com/Lina-go/backend-delfos-sub000/core"
)

// EventBuilder provides a fluent helper for constructing pipeline events in
// tests. Example:
//
//	ev := NewEventBuilder("req-1").Step(core.StepSQLGeneration).Attempt(2).Build()
//
// Chain only the parts you need.
type EventBuilder struct {
	requestID           string
	id                  string
	step                string
	result              any
	state               map[string]any
	attempt             int
	verificationAttempt int
	err                 error
	timestamp           time.Time
}

// NewEventBuilder creates a builder for a triage event of requestID.
func NewEventBuilder(requestID string) *EventBuilder {
	return &EventBuilder{requestID: requestID, step: core.StepTriage}
}

// ID overrides the generated event ID.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Step sets the step name.
func (b *EventBuilder) Step(step string) *EventBuilder { b.step = step; return b }

// Result sets the step result payload.
func (b *EventBuilder) Result(r any) *EventBuilder { b.result = r; return b }

// State adds one state fragment entry.
func (b *EventBuilder) State(key string, value any) *EventBuilder {
	if b.state == nil {
		b.state = map[string]any{}
	}
	b.state[key] = value
	return b
}

// Attempt sets the generation attempt.
func (b *EventBuilder) Attempt(n int) *EventBuilder { b.attempt = n; return b }

// VerificationAttempt sets the verification attempt.
func (b *EventBuilder) VerificationAttempt(n int) *EventBuilder {
	b.verificationAttempt = n
	return b
}

// At fixes the timestamp.
func (b *EventBuilder) At(ts time.Time) *EventBuilder { b.timestamp = ts; return b }

// Complete turns the event into the terminal complete event carrying resp.
func (b *EventBuilder) Complete(resp any) *EventBuilder {
	b.step = core.StepComplete
	b.result = resp
	return b
}

// Error turns the event into the terminal error event for err.
func (b *EventBuilder) Error(err error) *EventBuilder {
	b.step = core.StepError
	b.err = err
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	var ev core.Event
	switch b.step {
	case core.StepError:
		ev = core.NewErrorEvent(b.requestID, b.err)
	case core.StepComplete:
		ev = core.NewCompleteEvent(b.requestID, b.result)
	default:
		ev = core.NewStepEvent(b.requestID, b.step, b.result, b.state)
	}
	if b.id != "" {
		ev.ID = b.id
	}
	if !b.timestamp.IsZero() {
		ev.Timestamp = b.timestamp
	}
	ev.Attempt = b.attempt
	ev.VerificationAttempt = b.verificationAttempt
	return ev
}

// Drain collects every event until the channel closes.
func Drain(events <-chan core.Event) []core.Event {
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

// Steps returns the step names of events in order.
func Steps(events []core.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Step
	}
	return out
}

// Stream returns a closed, buffered channel holding events.
func Stream(events ...core.Event) <-chan core.Event {
	ch := make(chan core.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}
