package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/repurpose/internal/service/auth"
)

// MockTokenVerifier implements auth.TokenVerifier for testing
type MockTokenVerifier struct {
	// ValidateTokenFn allows test cases to mock the ValidateToken behavior
	ValidateTokenFn func(ctx context.Context, tokenString string) (*auth.Claims, error)

	// Default values used when ValidateTokenFn isn't defined
	Claims      *auth.Claims
	ValidateErr error

	mu     sync.Mutex
	tokens []string
}

var _ auth.TokenVerifier = (*MockTokenVerifier)(nil)

// ValidateToken implements auth.TokenVerifier
func (m *MockTokenVerifier) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	m.mu.Lock()
	m.tokens = append(m.tokens, tokenString)
	m.mu.Unlock()

	if m.ValidateTokenFn != nil {
		return m.ValidateTokenFn(ctx, tokenString)
	}
	return m.Claims, m.ValidateErr
}

// Tokens returns every token passed to ValidateToken.
func (m *MockTokenVerifier) Tokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.tokens...)
}
