package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Lina-go/backend-delfos-sub000/core"
)

// Request captures the normalized model input.
type Request struct {
	Instructions string         `json:"instructions"` // system prompt
	Contents     []core.Content `json:"contents"`
	// JSON asks the provider for a JSON object reply where supported.
	JSON bool `json:"json,omitempty"`
	// MaxTokens overrides the adapter default when positive.
	MaxTokens int64 `json:"max_tokens,omitempty"`
}

// NewRequest builds a request with a system prompt and one user message.
func NewRequest(instructions, user string) Request {
	return Request{
		Instructions: instructions,
		Contents:     []core.Content{core.NewTextContent("user", user)},
	}
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the reply emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"`
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Text returns the concatenated text of the response.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return r.Content.Text()
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Complete drains a Generate call and returns the last response.
func Complete(ctx context.Context, m Model, req Request) (*Response, error) {
	respCh, errCh := m.Generate(ctx, req)
	var last *Response
	for respCh != nil || errCh != nil {
		select {
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			last = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if last == nil {
		return nil, errors.New("model returned no response")
	}
	return last, nil
}

// IsTransientStatus reports whether an HTTP status from a provider signals a
// rate limit or temporary overload.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout, 529:
		return true
	}
	return false
}

// ProviderError classifies a provider API error by HTTP status.
func ProviderError(provider string, status int, err error) error {
	if IsTransientStatus(status) {
		return core.NewError(core.KindTransient, fmt.Sprintf("%s rate limited or overloaded (status %d)", provider, status), err)
	}
	return fmt.Errorf("%s api error: %w", provider, err)
}

// MockModel is an in-memory Model for tests. Replies are served in order;
// once exhausted, prompt-keyed responses and then an echo are used.
type MockModel struct {
	info Info

	mu        sync.Mutex
	replies   []mockReply
	responses map[string]string
	requests  []Request
}

type mockReply struct {
	text string
	err  error
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddReply queues a reply served by the next call.
func (m *MockModel) AddReply(text string) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{text: text})
	return m
}

// AddError queues an error returned by the next call.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{err: err})
	return m
}

// AddResponse registers a canned completion for an exact last user message.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Requests returns a copy of every request received.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if len(m.replies) > 0 {
		r := m.replies[0]
		m.replies = m.replies[1:]
		return r.text, r.err
	}
	if len(req.Contents) == 0 {
		return "", fmt.Errorf("no contents provided")
	}
	input := req.Contents[len(req.Contents)-1].Text()
	if full, ok := m.responses[input]; ok {
		return full, nil
	}
	return fmt.Sprintf("Mock response to: %s", input), nil
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)
		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		text, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- Response{
			ID:           core.NewID(),
			Content:      core.NewTextContent("assistant", text),
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
