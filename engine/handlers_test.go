package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lina-go/backend-delfos-sub000/classify"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/internal/testutil"
	"github.com/Lina-go/backend-delfos-sub000/model"
	"github.com/Lina-go/backend-delfos-sub000/session"
)

func conversationWithData() *session.Conversation {
	return testutil.NewConversationBuilder("u1").
		UserTurn("saldo por banco").
		AssistantTurn("A lidera.", classify.QueryData).
		LastAnswer("saldo por banco", "SELECT banco, saldo FROM gold.saldos", []string{"banco", "saldo"},
			map[string]any{"banco": "A", "saldo": 10.0},
			map[string]any{"banco": "B", "saldo": 5.0},
		).
		OutputKind(core.OutputBar, "Saldo por banco").
		Build()
}

func TestHandlerRouter(t *testing.T) {
	r := NewDefaultRouter(nil, hooks.NewDefaultRegistry(nil), nil)

	assert.Nil(t, r.Route(classify.QueryData))
	assert.IsType(t, GreetingHandler{}, r.Route(classify.QueryGreeting))
	assert.IsType(t, &FollowUpHandler{}, r.Route(classify.QueryFollowUp))
	assert.IsType(t, &GeneralHandler{}, r.Route("something_new"))
}

func TestGreetingHandler(t *testing.T) {
	resp := GreetingHandler{}.Handle(context.Background(), HandlerRequest{Message: "Muchas gracias!"})
	assert.Equal(t, classify.QueryGreeting, resp.Pattern)
	assert.Contains(t, resp.Insight, "Con gusto")
	assert.Equal(t, VisualNo, resp.Visual)
	assert.NotNil(t, resp.Data)
}

func TestGeneralHandler_FallsBackOnModelError(t *testing.T) {
	m := model.NewMockModel("mock", "test").AddError(errors.New("unavailable"))
	resp := (&GeneralHandler{Model: m}).Handle(context.Background(), HandlerRequest{Message: "qué puedes hacer"})
	assert.Equal(t, classify.QueryGeneral, resp.Pattern)
	assert.NotEmpty(t, resp.Insight)
	assert.Contains(t, resp.Error, "unavailable")
}

func TestFollowUpHandler(t *testing.T) {
	t.Run("without data", func(t *testing.T) {
		m := model.NewMockModel("mock", "test")
		resp := (&FollowUpHandler{Model: m}).Handle(context.Background(), HandlerRequest{
			Message:      "¿por qué?",
			Conversation: &session.Conversation{UserID: "u1"},
		})
		assert.Contains(t, resp.Insight, "No tengo contexto")
		assert.Zero(t, m.Calls())
	})

	t.Run("with data", func(t *testing.T) {
		m := model.NewMockModel("mock", "test").AddReply("A tiene el doble de saldo que B.")
		resp := (&FollowUpHandler{Model: m}).Handle(context.Background(), HandlerRequest{
			Message:      "¿por qué A lidera?",
			Conversation: conversationWithData(),
		})
		assert.Equal(t, "A tiene el doble de saldo que B.", resp.Insight)
		assert.Equal(t, 2, resp.RowCount)
		assert.Equal(t, core.OutputBar, resp.OutputKind)
		require.Equal(t, 1, m.Calls())
	})
}

func TestVizRequestHandler(t *testing.T) {
	h := &VizRequestHandler{Registry: hooks.NewDefaultRegistry(nil), MaxCategories: 8}

	t.Run("chart from message", func(t *testing.T) {
		resp := h.Handle(context.Background(), HandlerRequest{
			Message:      "muéstralo en torta",
			Conversation: conversationWithData(),
		})
		assert.Equal(t, core.OutputPie, resp.OutputKind)
		assert.Equal(t, VisualYes, resp.Visual)
		assert.Len(t, resp.DataPoints, 2)
	})

	t.Run("table", func(t *testing.T) {
		resp := h.Handle(context.Background(), HandlerRequest{
			Message:      "dámelo como tabla",
			Conversation: conversationWithData(),
		})
		assert.Equal(t, core.OutputTable, resp.OutputKind)
		assert.Equal(t, VisualNo, resp.Visual)
		assert.Len(t, resp.Data, 2)
	})

	t.Run("triage kind wins", func(t *testing.T) {
		resp := h.Handle(context.Background(), HandlerRequest{
			Message:      "otra gráfica",
			Triage:       classify.TriageResult{QueryType: classify.QueryVizRequest, OutputKind: core.OutputLine},
			Conversation: conversationWithData(),
		})
		assert.Equal(t, core.OutputLine, resp.OutputKind)
	})

	t.Run("no data", func(t *testing.T) {
		resp := h.Handle(context.Background(), HandlerRequest{Message: "en barras", Conversation: &session.Conversation{}})
		assert.Contains(t, resp.Insight, "No hay datos previos")
	})
}

func TestClarificationHandler(t *testing.T) {
	m := model.NewMockModel("mock", "test").AddReply("¿Qué periodo te interesa?")
	h := &ClarificationHandler{Model: m}

	resp := h.Handle(context.Background(), HandlerRequest{
		Message:      "cartera",
		Triage:       classify.TriageResult{Clarification: "¿Cartera de qué entidad?"},
		Conversation: &session.Conversation{},
	})
	assert.True(t, resp.NeedsClarification)
	assert.Equal(t, "¿Cartera de qué entidad?", resp.ClarificationQuestion)
	assert.Zero(t, m.Calls())

	resp = h.Handle(context.Background(), HandlerRequest{Message: "cartera", Conversation: &session.Conversation{}})
	assert.Equal(t, "¿Qué periodo te interesa?", resp.ClarificationQuestion)
	assert.Equal(t, 1, m.Calls())
}

func TestDetectOutputKind(t *testing.T) {
	assert.Equal(t, core.OutputPie, DetectOutputKind("en gráfico circular"))
	assert.Equal(t, core.OutputStackedBar, DetectOutputKind("barras apiladas"))
	assert.Equal(t, core.OutputScatter, DetectOutputKind("diagrama de dispersión"))
	assert.Empty(t, DetectOutputKind("otra vez"))
}
