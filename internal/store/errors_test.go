package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "generic error", err: errors.New("some error"), expected: false},
		{name: "ErrNotFound", err: ErrNotFound, expected: true},
		{name: "ErrConversionNotFound", err: ErrConversionNotFound, expected: true},
		{
			name:     "wrapped ErrConversionNotFound",
			err:      fmt.Errorf("failed to load: %w", ErrConversionNotFound),
			expected: true,
		},
		{
			name:     "store error wrapping ErrAccountNotFound",
			err:      NewStoreError("account", "get", "no plan", ErrAccountNotFound),
			expected: true,
		},
		{name: "duplicate", err: ErrDuplicate, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsNotFoundError(tt.err))
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	t.Parallel()

	assert.True(t, IsDuplicateError(ErrDuplicate))
	assert.True(t, IsDuplicateError(fmt.Errorf("insert: %w", ErrDuplicate)))
	assert.False(t, IsDuplicateError(ErrNotFound))
	assert.False(t, IsDuplicateError(nil))
}

func TestStatusConflictIsUpdateFailure(t *testing.T) {
	t.Parallel()

	assert.True(t, errors.Is(ErrStatusConflict, ErrUpdateFailed))
	assert.False(t, errors.Is(ErrStatusConflict, ErrNotFound))
}

func TestStoreError(t *testing.T) {
	t.Parallel()

	t.Run("with wrapped error", func(t *testing.T) {
		t.Parallel()
		inner := errors.New("connection reset")
		err := NewStoreError("conversion", "claim", "database error", inner)

		assert.Equal(t, "claim operation on conversion failed: database error: connection reset", err.Error())
		assert.ErrorIs(t, err, inner)

		var storeErr *StoreError
		assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &storeErr))
		assert.Equal(t, "conversion", storeErr.Entity)
	})

	t.Run("without wrapped error", func(t *testing.T) {
		t.Parallel()
		err := NewStoreError("output", "create", "bad format", nil)
		assert.Equal(t, "create operation on output failed: bad format", err.Error())
		assert.Nil(t, err.Unwrap())
	})
}
