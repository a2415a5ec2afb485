package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Lina-go/backend-delfos-sub000/classify"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/logging"
	"github.com/Lina-go/backend-delfos-sub000/model"
	"github.com/Lina-go/backend-delfos-sub000/session"
)

// HandlerRequest is what a handler sees of a request.
type HandlerRequest struct {
	Message      string
	UserID       string
	Triage       classify.TriageResult
	Conversation *session.Conversation
	// MaxHistoryTurns bounds the history handed to model-backed handlers.
	MaxHistoryTurns int
}

// Handler answers a request shape that never reaches the resolution loop.
// Handlers do not fail: collaborator errors become fallback text.
type Handler interface {
	Handle(ctx context.Context, req HandlerRequest) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req HandlerRequest) *Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req HandlerRequest) *Response { return f(ctx, req) }

// HandlerRouter maps query types to handlers. Data questions have no handler.
type HandlerRouter struct {
	handlers map[string]Handler
	fallback Handler
	logger   logging.Logger
}

// NewHandlerRouter creates a router whose unknown query types go to fallback.
func NewHandlerRouter(fallback Handler, logger logging.Logger) *HandlerRouter {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &HandlerRouter{handlers: make(map[string]Handler), fallback: fallback, logger: logger}
}

// Register binds a handler to a query type.
func (r *HandlerRouter) Register(queryType string, h Handler) { r.handlers[queryType] = h }

// Route returns the handler for queryType, or nil for data questions.
func (r *HandlerRouter) Route(queryType string) Handler {
	if queryType == classify.QueryData {
		return nil
	}
	if h, ok := r.handlers[queryType]; ok {
		return h
	}
	r.logger.Warn("Unknown query type, using general handler", "query_type", queryType)
	return r.fallback
}

// NewDefaultRouter wires the built-in handlers over m.
func NewDefaultRouter(m model.Model, registry *hooks.Registry, logger logging.Logger) *HandlerRouter {
	general := &GeneralHandler{Model: m, Logger: logger}
	r := NewHandlerRouter(general, logger)
	r.Register(classify.QueryGreeting, GreetingHandler{})
	r.Register(classify.QueryGeneral, general)
	r.Register(classify.QueryOutOfScope, OutOfScopeHandler{})
	r.Register(classify.QueryFollowUp, &FollowUpHandler{Model: m, Logger: logger})
	r.Register(classify.QueryVizRequest, &VizRequestHandler{Registry: registry, MaxCategories: DefaultConfig.MaxCategories})
	r.Register(classify.QueryClarification, &ClarificationHandler{Model: m, Logger: logger})
	return r
}

var greetingKeywords = []struct {
	keywords []string
	reply    string
}{
	{[]string{"hola", "buenos días", "buenos dias", "buenas tardes", "buenas noches", "hey", "qué tal", "que tal"},
		"¡Hola! Soy Delfos, tu asistente de datos financieros de Colombia. ¿En qué te puedo ayudar?"},
	{[]string{"gracias", "thank", "te agradezco"},
		"¡Con gusto! Si necesitas más información sobre datos financieros, aquí estoy."},
	{[]string{"chao", "adiós", "adios", "bye", "hasta luego", "nos vemos"},
		"¡Hasta luego! Que tengas un buen día."},
}

// GreetingHandler answers salutations from a fixed table.
type GreetingHandler struct{}

// Handle implements Handler.
func (GreetingHandler) Handle(_ context.Context, req HandlerRequest) *Response {
	msg := strings.ToLower(req.Message)
	for _, g := range greetingKeywords {
		for _, kw := range g.keywords {
			if strings.Contains(msg, kw) {
				return NewResponse(classify.QueryGreeting, g.reply)
			}
		}
	}
	return NewResponse(classify.QueryGreeting, "¡Hola! ¿En qué te puedo ayudar con datos financieros?")
}

// OutOfScopeHandler rejects requests for data the warehouse does not hold.
type OutOfScopeHandler struct{}

// Handle implements Handler.
func (OutOfScopeHandler) Handle(_ context.Context, req HandlerRequest) *Response {
	msg := "Lo siento, esa información no está disponible en los datos que consulto. " +
		"Puedo ayudarte con cartera de crédito, tasas de captación y entidades financieras."
	if req.Triage.Reasoning != "" {
		msg += " (" + req.Triage.Reasoning + ")"
	}
	return NewResponse(classify.QueryOutOfScope, msg)
}

const generalPrompt = `Eres Delfos, un asistente de datos financieros del sistema financiero colombiano.
Responde en español, de forma breve, preguntas generales sobre ti o sobre qué datos puedes consultar:
cartera de crédito por entidad y segmento, tasas de captación por producto y plazo, y entidades vigiladas.
No inventes cifras.`

// GeneralHandler answers questions that need no data.
type GeneralHandler struct {
	Model  model.Model
	Logger logging.Logger
}

// Handle implements Handler.
func (h *GeneralHandler) Handle(ctx context.Context, req HandlerRequest) *Response {
	text, err := complete(ctx, h.Model, generalPrompt, req.Message, 512)
	if err != nil {
		logOr(h.Logger).Error("General handler failed", "error", err)
		resp := NewResponse(classify.QueryGeneral, "Lo siento, no pude procesar tu pregunta. ¿Puedo ayudarte con algo más?")
		resp.Error = err.Error()
		return resp
	}
	return NewResponse(classify.QueryGeneral, text)
}

// FollowUpHandler answers questions about the previous answer's rows.
type FollowUpHandler struct {
	Model  model.Model
	Logger logging.Logger
}

const followUpPrompt = `Responde preguntas de seguimiento de forma clara y concisa en español.
Usa solo los datos de la consulta anterior; si pregunta "¿por qué?", explica basándote en los datos.
No inventes datos que no estén en el contexto.`

// Handle implements Handler.
func (h *FollowUpHandler) Handle(ctx context.Context, req HandlerRequest) *Response {
	conv := req.Conversation
	if !conv.HasData() {
		return NewResponse(classify.QueryFollowUp,
			"No tengo contexto de una consulta anterior. ¿Podrías hacer primero una consulta de datos?")
	}
	preview := conv.LastRows
	if len(preview) > 5 {
		preview = preview[:5]
	}
	rows, _ := json.Marshal(preview)
	user := fmt.Sprintf("## Consulta anterior\n- Pregunta: %s\n- SQL ejecutado: %s\n- Resultados (primeros 5): %s\n\n## Pregunta de seguimiento\n%q",
		conv.LastQuery, conv.LastSQL, rows, req.Message)

	text, err := complete(ctx, h.Model, followUpPrompt, user, 800)
	if err != nil {
		logOr(h.Logger).Error("Follow-up handler failed", "error", err)
		text = "Lo siento, no pude procesar tu pregunta. ¿Podrías reformularla?"
	}
	resp := NewResponse(classify.QueryFollowUp, text)
	resp.Data = preview
	resp.Columns = conv.LastColumns
	resp.OutputKind = conv.LastOutputKind
	resp.RowCount = len(preview)
	return resp
}

var chartKeywords = []struct {
	kind     string
	keywords []string
}{
	{core.OutputPie, []string{"pie", "pastel", "torta", "circular"}},
	{core.OutputLine, []string{"línea", "linea", "line", "tiempo", "tendencia"}},
	{core.OutputStackedBar, []string{"stacked", "apilad", "acumulad"}},
	{core.OutputBar, []string{"barra", "barras", "bar"}},
	{core.OutputScatter, []string{"dispersi", "scatter"}},
	{core.OutputTable, []string{"tabla", "table"}},
}

// DetectOutputKind finds a requested chart in message.
func DetectOutputKind(message string) string {
	msg := strings.ToLower(message)
	for _, c := range chartKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(msg, kw) {
				return c.kind
			}
		}
	}
	return ""
}

// VizRequestHandler re-renders the previous rows with another output kind
// without running a query.
type VizRequestHandler struct {
	Registry      *hooks.Registry
	MaxCategories int
}

// Handle implements Handler.
func (h *VizRequestHandler) Handle(_ context.Context, req HandlerRequest) *Response {
	conv := req.Conversation
	if !conv.HasData() {
		return NewResponse(classify.QueryVizRequest, "No hay datos previos para graficar. Primero haz una consulta de datos.")
	}

	kind := req.Triage.OutputKind
	if !core.IsChart(kind) && kind != core.OutputTable {
		kind = DetectOutputKind(req.Message)
	}
	if kind == "" {
		kind = conv.LastOutputKind
	}
	if kind == "" {
		kind = core.OutputBar
	}
	if kind == core.OutputTable {
		resp := NewResponse(classify.QueryVizRequest, "Aquí están los datos en tabla.")
		resp.Data = conv.LastRows
		resp.Columns = conv.LastColumns
		resp.RowCount = len(conv.LastRows)
		resp.OutputKind = core.OutputTable
		resp.Title = conv.LastTitle
		return resp
	}

	m := hooks.InferMapping(conv.LastRows, conv.LastColumns, kind, "", conv.LastTitle)
	var set hooks.HookSet
	if kind == core.OutputScatter && h.Registry != nil {
		set = h.Registry.Get("relacion")
	}
	points := hooks.LimitCategories(set.DataPoints(conv.LastRows, m), h.MaxCategories)
	if len(points) == 0 {
		return NewResponse(classify.QueryVizRequest, "No pude generar el gráfico: los datos anteriores no tienen columnas numéricas.")
	}

	resp := NewResponse(classify.QueryVizRequest, fmt.Sprintf("Aquí están los datos en gráfico de %s.", kind))
	resp.Data = conv.LastRows
	resp.Columns = conv.LastColumns
	resp.RowCount = len(conv.LastRows)
	resp.Visual = VisualYes
	resp.OutputKind = kind
	resp.Title = conv.LastTitle
	resp.DataPoints = points
	resp.MetricName = m.MetricName
	return resp
}

const clarificationPrompt = `Eres Delfos, un asistente de datos financieros del sistema financiero colombiano.
La pregunta del usuario es ambigua o incompleta. Genera UNA sola pregunta de clarificación, concisa y específica,
ofreciendo opciones concretas cuando sea posible (entidad, periodo, métrica, tipo de crédito).
Responde SOLO con la pregunta.`

// ClarificationHandler asks the user for the detail an ambiguous question lacks.
type ClarificationHandler struct {
	Model  model.Model
	Logger logging.Logger
}

// Handle implements Handler.
func (h *ClarificationHandler) Handle(ctx context.Context, req HandlerRequest) *Response {
	question := strings.TrimSpace(req.Triage.Clarification)
	if question == "" {
		user := req.Message
		if history := req.Conversation.HistorySummary(req.MaxHistoryTurns); history != "" {
			user = history + "\n\nPregunta actual del usuario: " + req.Message
		}
		text, err := complete(ctx, h.Model, clarificationPrompt, user, 300)
		if err != nil {
			logOr(h.Logger).Error("Clarification handler failed", "error", err)
			text = "Tu pregunta es un poco ambigua. ¿Podrías ser más específico? " +
				"Por ejemplo, indica qué métrica, entidad o periodo te interesa."
		}
		question = text
	}
	resp := NewResponse(classify.QueryClarification, question)
	resp.NeedsClarification = true
	resp.ClarificationQuestion = question
	return resp
}

func complete(ctx context.Context, m model.Model, system, user string, maxTokens int64) (string, error) {
	if m == nil {
		return "", fmt.Errorf("no model configured")
	}
	req := model.NewRequest(system, user)
	req.MaxTokens = maxTokens
	resp, err := model.Complete(ctx, m, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty reply")
	}
	return text, nil
}

func logOr(l logging.Logger) logging.Logger {
	if l == nil {
		return logging.NoOpLogger{}
	}
	return l
}
