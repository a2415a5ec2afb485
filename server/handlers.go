package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Lina-go/backend-delfos-sub000/core"
	"github.com/Lina-go/backend-delfos-sub000/engine"
)

// maxBodyBytes caps chat request bodies.
const maxBodyBytes = 1 << 20

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (engine.Request, bool) {
	var body ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return engine.Request{}, false
	}
	if strings.TrimSpace(body.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "message is required"})
		return engine.Request{}, false
	}
	return engine.Request{
		RequestID: GetRequestID(r.Context()),
		UserID:    body.UserID,
		Message:   body.Message,
	}, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	resp, err := s.pipeline.Process(r.Context(), req)
	if err != nil {
		s.opts.Logger.Warn("Chat request failed", "request_id", req.RequestID, "error", err)
		writeJSON(w, statusFor(err), engine.ErrorResponse(req.RequestID, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream writes one server-sent event per pipeline event. The stream
// always ends with the complete or error event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, events := s.pipeline.Stream(r.Context(), req)
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.opts.Logger.Error("Failed to encode event", "request_id", req.RequestID, "step", ev.Step, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Step, data); err != nil {
			s.opts.Logger.Debug("Client went away", "request_id", req.RequestID, "error", err)
			continue
		}
		flusher.Flush()
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if err := s.pipeline.Cancel(requestID); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.CacheStats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.pipeline.ClearCaches()
	s.opts.Logger.Info("Caches cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.resources.PoolStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.resources.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	}
	var perr *core.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError
	}
	switch perr.Kind {
	case core.KindCandidateInvalid, core.KindVerification:
		return http.StatusUnprocessableEntity
	case core.KindExecution:
		return http.StatusBadGateway
	case core.KindTransient, core.KindResourceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
