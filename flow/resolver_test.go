package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/hooks"
	"github.com/Lina-go/backend-delfos-sub000/pool"
	"github.com/Lina-go/backend-delfos-sub000/query"
)

type mockGenerator struct{ mock.Mock }

func (m *mockGenerator) Generate(ctx context.Context, in query.GenerateInput) (*query.Candidate, error) {
	args := m.Called(ctx, in)
	c, _ := args.Get(0).(*query.Candidate)
	return c, args.Error(1)
}

func (m *mockGenerator) input(i int) query.GenerateInput {
	return m.Calls[i].Arguments.Get(1).(query.GenerateInput)
}

type mockExecutor struct{ mock.Mock }

func (m *mockExecutor) Execute(ctx context.Context, sql string) (*query.Result, error) {
	args := m.Called(ctx, sql)
	r, _ := args.Get(0).(*query.Result)
	return r, args.Error(1)
}

type eventLog struct{ events []core.Event }

func (l *eventLog) emit(ev core.Event) { l.events = append(l.events, ev) }

func (l *eventLog) steps() []string {
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Step
	}
	return out
}

func candidate(sql string) *query.Candidate {
	return &query.Candidate{SQL: sql, Tables: []string{"gold.x"}}
}

func rows(n int) *query.Result {
	r := &query.Result{Columns: []string{"v"}, Rows: []map[string]any{}}
	for i := 0; i < n; i++ {
		r.Rows = append(r.Rows, map[string]any{"v": i})
	}
	return r
}

func newState() *core.PipelineState {
	st := core.NewPipelineState("req-1", "user-1", "saldo por banco")
	st.SchemaContext = "gold.x(v)"
	st.SelectedTables = []string{"gold.x"}
	return st
}

func TestResolver_RecoversFromValidationAndEmptyResult(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM x"), nil).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x WHERE v = 'nope'"), nil).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil).Once()

	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, "SELECT v FROM gold.x WHERE v = 'nope'").Return(rows(0), nil).Once()
	exec.On("Execute", mock.Anything, "SELECT v FROM gold.x").Return(rows(3), nil).Once()

	val := query.NewValidator(func(o *query.ValidatorOptions) { o.RequiredPrefix = "gold." })
	r := New(gen, val, exec, query.NewVerifier())

	st := newState()
	log := &eventLog{}
	err := r.Resolve(context.Background(), st, hooks.HookSet{}, log.emit)
	require.NoError(t, err)

	assert.True(t, st.Verification.Passed)
	assert.Len(t, st.Rows, 3)
	assert.Equal(t, "SELECT v FROM gold.x", st.SQL)
	assert.Equal(t, 3, st.Attempts)

	second := gen.input(1)
	assert.Equal(t, "SELECT v FROM x", second.PreviousSQL)
	require.Len(t, second.Issues, 1)
	assert.Contains(t, second.Issues[0], "missing required prefix")

	third := gen.input(2)
	assert.Equal(t, "SELECT v FROM gold.x WHERE v = 'nope'", third.PreviousSQL)
	assert.Equal(t, []string{query.IssueZeroRows}, third.Issues)
	assert.NotEmpty(t, third.Suggestion)
	assert.Equal(t, "saldo por banco", third.Question)

	assert.Equal(t, []string{
		core.StepSQLGeneration, core.StepSQLValidation,
		core.StepSQLGeneration, core.StepSQLValidation,
		core.StepSQLExecution, core.StepVerification,
		core.StepSQLGeneration, core.StepSQLValidation,
		core.StepSQLExecution, core.StepVerification,
	}, log.steps())
	lastEv := log.events[len(log.events)-1]
	assert.Equal(t, 2, lastEv.VerificationAttempt)
	assert.Equal(t, "req-1", lastEv.RequestID)

	gen.AssertExpectations(t)
	exec.AssertExpectations(t)
}

func TestResolver_InnerBudgetExhausted(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("DROP TABLE gold.x"), nil)
	exec := &mockExecutor{}

	r := New(gen, query.NewValidator(), exec, query.NewVerifier())
	st := newState()
	err := r.Resolve(context.Background(), st, hooks.HookSet{}, nil)

	require.Error(t, err)
	assert.Equal(t, core.KindCandidateInvalid, core.KindOf(err))
	var perr *core.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"Blocked keyword: DROP"}, perr.Issues)
	gen.AssertNumberOfCalls(t, "Generate", 2)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestResolver_MalformedReplyIsRetried(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).
		Return(nil, core.NewError(core.KindCandidateInvalid, "model reply is not a candidate", nil, "no JSON")).Once()
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil).Once()
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(rows(1), nil)

	r := New(gen, query.NewValidator(), exec, query.NewVerifier())
	require.NoError(t, r.Resolve(context.Background(), newState(), hooks.HookSet{}, nil))
	assert.Equal(t, []string{"no JSON"}, gen.input(1).Issues)
}

func TestResolver_FatalErrors(t *testing.T) {
	t.Run("generator failure", func(t *testing.T) {
		boom := errors.New("provider down")
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return(nil, boom).Once()

		r := New(gen, query.NewValidator(), &mockExecutor{}, query.NewVerifier())
		err := r.Resolve(context.Background(), newState(), hooks.HookSet{}, nil)
		assert.ErrorIs(t, err, boom)
		gen.AssertNumberOfCalls(t, "Generate", 1)
	})

	t.Run("pool exhausted", func(t *testing.T) {
		gen := &mockGenerator{}
		gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil)
		exec := &mockExecutor{}
		exec.On("Execute", mock.Anything, mock.Anything).Return(nil, pool.ErrPoolExhausted).Once()

		r := New(gen, query.NewValidator(), exec, query.NewVerifier())
		st := newState()
		err := r.Resolve(context.Background(), st, hooks.HookSet{}, nil)
		assert.ErrorIs(t, err, pool.ErrPoolExhausted)
		assert.True(t, core.IsResourceExhausted(err))
		gen.AssertNumberOfCalls(t, "Generate", 1)
	})
}

func TestResolver_OuterBudgetExhaustedByExecutionErrors(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT SUM(v) FROM gold.x"), nil)
	exec := &mockExecutor{}
	execErr := core.NewError(core.KindExecution, "query execution failed", errors.New("Arithmetic overflow error converting expression to data type int"))
	exec.On("Execute", mock.Anything, mock.Anything).Return(nil, execErr)

	r := New(gen, query.NewValidator(), exec, query.NewVerifier())
	st := newState()
	log := &eventLog{}
	err := r.Resolve(context.Background(), st, hooks.HookSet{}, log.emit)

	require.Error(t, err)
	assert.Equal(t, core.KindExecution, core.KindOf(err))
	var perr *core.Error
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Issues, 1)
	assert.Contains(t, perr.Issues[0], "Query execution failed")
	assert.Contains(t, gen.input(1).Suggestion, "FLOAT")
	assert.Equal(t, "SELECT SUM(v) FROM gold.x", st.SQL)
	exec.AssertNumberOfCalls(t, "Execute", 2)

	ev := core.NewErrorEvent(st.RequestID, err)
	assert.Equal(t, "execution_failed", *ev.ErrorCode)
}

func TestResolver_VerificationExhausted(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil)
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(rows(0), nil)

	r := New(gen, query.NewValidator(), exec, query.NewVerifier(), func(o *Options) { o.MaxVerificationRetries = 3 })
	err := r.Resolve(context.Background(), newState(), hooks.HookSet{}, nil)

	require.Error(t, err)
	assert.Equal(t, core.KindVerification, core.KindOf(err))
	exec.AssertNumberOfCalls(t, "Execute", 3)
}

func TestResolver_EnrichHookReachesGenerator(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil)
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(rows(2), nil)

	r := New(gen, query.NewValidator(), exec, query.NewVerifier())
	h := hooks.TemporalHooks()
	require.NoError(t, r.Resolve(context.Background(), newState(), h, nil))

	in := gen.input(0)
	require.NotNil(t, in.Enrich)
	assert.Contains(t, in.Enrich("BASE"), "LAST 12 MONTHS")
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "retryable", Retryable.String())
	assert.Equal(t, "fatal", Fatal.String())
}

func TestResolver_TruncatedResultFailsVerification(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return(candidate("SELECT v FROM gold.x"), nil)
	truncated := rows(1)
	truncated.Truncated = true
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, mock.Anything).Return(truncated, nil)

	ver := query.NewVerifier(func(o *query.VerifierOptions) { o.RowCeiling = 0 })
	r := New(gen, query.NewValidator(), exec, ver, func(o *Options) { o.MaxVerificationRetries = 1 })
	st := newState()
	err := r.Resolve(context.Background(), st, hooks.HookSet{}, nil)

	require.Error(t, err)
	assert.Equal(t, core.KindVerification, core.KindOf(err))
	assert.False(t, st.Verification.Passed)
	assert.Contains(t, st.Verification.Issues[0], "more than 1 rows")
}
