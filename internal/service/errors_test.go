package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/phrazzld/repurpose/internal/domain"
	"github.com/phrazzld/repurpose/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestErrConversionNotFoundIsDomainNotFound(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, ErrConversionNotFound, domain.ErrNotFound)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(ErrConversionNotFound))
}

func TestServiceError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name:     "with underlying error",
			err:      &ServiceError{Operation: "admit", Message: "failed to persist", Err: errors.New("db down")},
			expected: "service admit failed: failed to persist: db down",
		},
		{
			name:     "without underlying error",
			err:      &ServiceError{Operation: "get_status", Message: "broken"},
			expected: "service get_status failed: broken",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewServiceError(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NewServiceError("op", "msg", nil))
	})

	t.Run("store not found becomes conversion not found", func(t *testing.T) {
		err := NewServiceError("op", "msg", fmt.Errorf("lookup: %w", store.ErrConversionNotFound))
		assert.Same(t, ErrConversionNotFound, err)
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		quota := &domain.QuotaExceededError{Plan: "free", Used: 5, Limit: 5}
		assert.Same(t, quota, NewServiceError("op", "msg", quota))

		input := domain.NewInputError(domain.SourceKindVideo, "no_captions", "no captions")
		assert.Same(t, input, NewServiceError("op", "msg", input))
	})

	t.Run("unexpected errors are wrapped", func(t *testing.T) {
		cause := errors.New("boom")
		err := NewServiceError("admit", "failed", cause)

		var se *ServiceError
		assert.True(t, errors.As(err, &se))
		assert.Equal(t, "admit", se.Operation)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))
	})
}
