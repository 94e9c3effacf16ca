package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/repurpose/internal/platform/llm"
)

// MockLLMClient implements llm.Client for testing
type MockLLMClient struct {
	CompleteFn func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// Default response values
	Response *llm.Response
	Err      error

	mu       sync.Mutex
	requests []llm.Request
}

var _ llm.Client = (*MockLLMClient)(nil)

// Complete implements llm.Client
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFn != nil {
		return m.CompleteFn(ctx, req)
	}
	return m.Response, m.Err
}

// Requests returns a copy of every request received.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}
