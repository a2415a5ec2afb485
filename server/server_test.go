package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Lina-go/backend-delfos-sub000/cache"
	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/engine"
	"github.com/Lina-go/backend-delfos-sub000/internal/testutil"
	"github.com/Lina-go/backend-delfos-sub000/pool"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakePipeline struct {
	mu       sync.Mutex
	requests []engine.Request
	resp     *engine.Response
	err      error
	cleared  bool
	active   map[string]bool
}

func (f *fakePipeline) Process(_ context.Context, req engine.Request) (*engine.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := *f.resp
	out.RequestID = req.RequestID
	return &out, nil
}

func (f *fakePipeline) Stream(_ context.Context, req engine.Request) (string, <-chan core.Event) {
	triage := testutil.NewEventBuilder(req.RequestID).Result(map[string]any{"query_type": "data_question"}).Build()
	terminal := testutil.NewEventBuilder(req.RequestID).Complete(f.resp)
	if f.err != nil {
		terminal = testutil.NewEventBuilder(req.RequestID).Error(f.err)
	}
	return req.RequestID, testutil.Stream(triage, terminal.Build())
}

func (f *fakePipeline) Cancel(requestID string) error {
	if !f.active[requestID] {
		return errors.New("request " + requestID + " not found")
	}
	return nil
}

func (f *fakePipeline) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{"exact": {Size: 3, Hits: 2, MaxSize: 200}}
}

func (f *fakePipeline) ClearCaches() { f.cleared = true }

type fakeResources struct {
	healthErr error
}

func (f fakeResources) PoolStats() []pool.Stats {
	return []pool.Stats{{Name: "warehouse", Total: 2, Available: 1, InUse: 1, MaxSize: 10}}
}

func (f fakeResources) HealthCheck(context.Context) error { return f.healthErr }

func newTestServer(p *fakePipeline, res fakeResources) *Server {
	return New(p, res)
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	p := &fakePipeline{resp: &engine.Response{Pattern: "comparacion", RowCount: 3, Verified: true}}
	s := newTestServer(p, fakeResources{})

	rec := do(t, s, http.MethodPost, "/v1/chat", `{"message":"saldo por banco","user_id":"u1"}`, RequestIDHeader, "req-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))

	var resp engine.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, 3, resp.RowCount)

	require.Len(t, p.requests, 1)
	assert.Equal(t, engine.Request{RequestID: "req-1", UserID: "u1", Message: "saldo por banco"}, p.requests[0])
}

func TestChat_GeneratesRequestID(t *testing.T) {
	p := &fakePipeline{resp: &engine.Response{}}
	rec := do(t, newTestServer(p, fakeResources{}), http.MethodPost, "/v1/chat", `{"message":"hola"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	assert.Equal(t, rec.Header().Get(RequestIDHeader), p.requests[0].RequestID)
}

func TestChat_BadRequests(t *testing.T) {
	s := newTestServer(&fakePipeline{resp: &engine.Response{}}, fakeResources{})

	for name, body := range map[string]string{
		"malformed": `{"message":`,
		"empty":     `{"message":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/chat", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestChat_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"verification", core.NewError(core.KindVerification, "no plausible result", nil, "empty"), http.StatusUnprocessableEntity},
		{"candidate", core.NewError(core.KindCandidateInvalid, "invalid", nil), http.StatusUnprocessableEntity},
		{"execution", core.NewError(core.KindExecution, "failed", nil), http.StatusBadGateway},
		{"exhausted", core.ErrGateTimeout, http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"canceled", context.Canceled, 499},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakePipeline{err: tt.err}, fakeResources{})
			rec := do(t, s, http.MethodPost, "/v1/chat", `{"message":"saldo"}`)
			assert.Equal(t, tt.status, rec.Code)

			var resp engine.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "error", resp.Pattern)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func readEvents(t *testing.T, body string) []core.Event {
	t.Helper()
	var events []core.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev core.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestStream(t *testing.T) {
	p := &fakePipeline{resp: &engine.Response{Pattern: "comparacion"}}
	rec := do(t, newTestServer(p, fakeResources{}), http.MethodPost, "/v1/chat/stream", `{"message":"saldo"}`, RequestIDHeader, "s-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: triage\n")

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, core.StepTriage, events[0].Step)
	assert.Equal(t, core.StepComplete, events[1].Step)
	for _, ev := range events {
		assert.Equal(t, "s-1", ev.RequestID)
	}
}

func TestStream_ErrorEvent(t *testing.T) {
	p := &fakePipeline{err: core.NewError(core.KindVerification, "no plausible result", nil)}
	rec := do(t, newTestServer(p, fakeResources{}), http.MethodPost, "/v1/chat/stream", `{"message":"saldo"}`)

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	last := events[1]
	assert.True(t, last.IsError())
	require.NotNil(t, last.ErrorCode)
	assert.Equal(t, "verification_failed", *last.ErrorCode)
}

func TestCancel(t *testing.T) {
	p := &fakePipeline{active: map[string]bool{"live": true}}
	s := newTestServer(p, fakeResources{})

	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodDelete, "/v1/requests/live", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/v1/requests/gone", "").Code)
}

func TestCacheAdministration(t *testing.T) {
	p := &fakePipeline{}
	s := newTestServer(p, fakeResources{})

	rec := do(t, s, http.MethodGet, "/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats["exact"].Size)

	rec = do(t, s, http.MethodDelete, "/v1/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, p.cleared)
}

func TestPoolsAndHealth(t *testing.T) {
	s := newTestServer(&fakePipeline{}, fakeResources{})

	rec := do(t, s, http.MethodGet, "/v1/pools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats []pool.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "warehouse", stats[0].Name)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "").Code)

	unhealthy := newTestServer(&fakePipeline{}, fakeResources{healthErr: errors.New("warehouse: ping failed")})
	rec = do(t, unhealthy, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ping failed")
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := New(&fakePipeline{}, fakeResources{}, func(o *Options) { o.Addr = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()
	cancel()
	assert.NoError(t, <-errCh)
}
