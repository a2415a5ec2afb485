package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestEvent_Constructors(t *testing.T) {
	e := NewEvent("req-1", StepTriage)
	if e.RequestID != "req-1" || e.Step != StepTriage || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}
	if e.IsTerminal() {
		t.Fatal("stage event should not be terminal")
	}

	s := NewStepEvent("req-1", StepIntent, "ok", map[string]any{"sub_type": "valor_puntual"})
	if s.Result != "ok" || s.State["sub_type"] != "valor_puntual" {
		t.Fatalf("NewStepEvent malformed: %+v", s)
	}

	c := NewCompleteEvent("req-1", map[string]any{"rows": 3})
	if !c.IsTerminal() || c.IsError() {
		t.Fatalf("complete event flags wrong: %+v", c)
	}
}

func TestEvent_ErrorEventCarriesKindAndIssues(t *testing.T) {
	err := NewError(KindVerification, "verification failed", nil, "Query returned 0 rows")
	e := NewErrorEvent("req-2", fmt.Errorf("resolve: %w", err))

	if !e.IsTerminal() || !e.IsError() {
		t.Fatal("error event must be terminal")
	}
	if e.ErrorCode == nil || *e.ErrorCode != "verification_failed" {
		t.Fatalf("unexpected error code: %v", e.ErrorCode)
	}
	res, ok := e.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected issues payload, got %T", e.Result)
	}
	issues := res["issues"].([]string)
	if len(issues) != 1 || issues[0] != "Query returned 0 rows" {
		t.Fatalf("issues not propagated: %v", issues)
	}
}

func TestEvent_ErrorEventUnknownError(t *testing.T) {
	e := NewErrorEvent("req-3", errors.New("boom"))
	if *e.ErrorCode != "fatal" || *e.ErrorMessage != "boom" {
		t.Fatalf("unexpected error fields: %s %s", *e.ErrorCode, *e.ErrorMessage)
	}

	nilErr := NewErrorEvent("req-3", nil)
	if nilErr.ErrorMessage == nil || *nilErr.ErrorMessage == "" {
		t.Fatal("nil error should still produce a message")
	}
}

func TestError_KindAndIs(t *testing.T) {
	wrapped := fmt.Errorf("acquire: %w", ErrGateTimeout)
	if !errors.Is(wrapped, ErrGateTimeout) {
		t.Fatal("errors.Is should match the gate sentinel through wrapping")
	}
	if !IsResourceExhausted(wrapped) {
		t.Fatal("gate timeout should be resource exhausted")
	}
	if KindOf(errors.New("x")) != KindFatal {
		t.Fatal("plain errors default to fatal")
	}

	cause := errors.New("driver: bad connection")
	e := NewError(KindExecution, "execution failed", cause)
	if !errors.Is(e, cause) {
		t.Fatal("Unwrap should expose the cause")
	}
	if e.Error() != "execution failed (driver: bad connection)" {
		t.Fatalf("unexpected message: %q", e.Error())
	}
}

func TestPipelineState_ResetSQL(t *testing.T) {
	s := NewPipelineState("req", "user", "ventas por mes")
	s.SubType = "tendencia_simple"
	s.SelectedTables = []string{"gold.ventas"}
	s.SQL = "SELECT 1"
	s.Rows = []map[string]any{{"a": 1}}
	s.ExecError = "timeout"
	s.Verification = VerificationOutcome{Issues: []string{"Query returned 0 rows"}}

	s.ResetSQL()

	if s.SQL != "" || s.Rows != nil || s.ExecError != "" {
		t.Fatalf("ResetSQL left candidate state behind: %+v", s)
	}
	if s.SubType != "tendencia_simple" || len(s.SelectedTables) != 1 {
		t.Fatal("ResetSQL must keep classification and targets")
	}
	if len(s.Verification.Issues) != 1 {
		t.Fatal("ResetSQL must keep the last verification for feedback")
	}
	if s.Fragment(StepSQLExecution)["row_count"] != 0 {
		t.Fatal("fragment should reflect cleared rows")
	}
}

func TestContent_Text(t *testing.T) {
	c := Content{Role: "user", Parts: []Part{TextPart{Text: "a"}, TextPart{Text: "b"}}}
	if c.Text() != "ab" {
		t.Fatalf("got %q", c.Text())
	}
	if NewTextContent("system", "x").Role != "system" {
		t.Fatal("role not set")
	}
}
