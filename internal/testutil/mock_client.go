// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"sync"

	"github.com/giantswarm/agent-testing/internal/llm"
)

// MockLLMClient is a configurable mock for llm.Client used across test packages.
type MockLLMClient struct {
	mu sync.Mutex

	// Responses are returned in order, one per call. When exhausted,
	// DefaultResponse is used.
	Responses []string

	// DefaultResponse is returned when Responses is exhausted.
	DefaultResponse string

	// Err, when set, is returned by every call.
	Err error

	// Calls tracks the number of ChatCompletion invocations.
	Calls int

	// Requests records every ChatRequest for inspection.
	Requests []llm.ChatRequest
}

func (m *MockLLMClient) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	m.Requests = append(m.Requests, req)

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) > 0 {
		resp := m.Responses[0]
		m.Responses = m.Responses[1:]
		return &llm.ChatResponse{Content: resp}, nil
	}
	return &llm.ChatResponse{Content: m.DefaultResponse}, nil
}

// LastRequest returns the most recent request, or a zero value.
func (m *MockLLMClient) LastRequest() llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.ChatRequest{}
	}
	return m.Requests[len(m.Requests)-1]
}

// PassingVerdict is a judge reply that passes with default weights.
const PassingVerdict = `{"task_success": 0.9, "intent_match": 0.8, "factuality": 0.9, "helpfulness": 0.8, "safety": 1.0, "rationale": "ok", "citations": []}`

// FailingVerdict is a judge reply that fails with default weights.
const FailingVerdict = `{"task_success": 0.1, "intent_match": 0.2, "factuality": 0.3, "helpfulness": 0.2, "safety": 1.0, "rationale": "missed the point", "citations": []}`
