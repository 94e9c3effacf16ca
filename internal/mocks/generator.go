package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/generation"
	"github.com/phrazzld/repurpose/internal/platform/llm"
)

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, in generation.Input) (*generation.Result, error)

	// Err is returned by the default implementation when set
	Err error

	// Call tracking for verification
	GenerateCalls struct {
		// mu protects the call tracking state for concurrent test cases
		mu sync.Mutex

		// Count tracks how many times Generate was called
		Count int

		// Inputs contains all inputs passed to Generate calls
		Inputs []generation.Input
	}
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements the generation.Generator interface. Without GenerateFn
// or Err it returns "<format> output" with 10 tokens used.
func (m *MockGenerator) Generate(ctx context.Context, in generation.Input) (*generation.Result, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Inputs = append(m.GenerateCalls.Inputs, in)
	m.GenerateCalls.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, in)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &generation.Result{
		Format: in.Format,
		Text:   string(in.Format) + " output",
		Usage:  llm.Usage{PromptTokens: 6, CompletionTokens: 4, TotalTokens: 10},
		Model:  "mock-model",
	}, nil
}

// Calls returns the number of Generate calls.
func (m *MockGenerator) Calls() int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Count
}

// CallsFor returns how many times Generate was called for format.
func (m *MockGenerator) CallsFor(format domain.Format) int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()

	n := 0
	for _, in := range m.GenerateCalls.Inputs {
		if in.Format == format {
			n++
		}
	}
	return n
}

// NewMockGeneratorWithError creates a MockGenerator that returns the specified error
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}

// MockGeneratorRateLimited creates a MockGenerator whose every call is rate limited
func MockGeneratorRateLimited() *MockGenerator {
	return &MockGenerator{
		Err: &llm.Error{Kind: llm.KindRateLimited, StatusCode: 429, Message: "rate limit reached"},
	}
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()

	m.GenerateCalls.Count = 0
	m.GenerateCalls.Inputs = nil
}
