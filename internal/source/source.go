// Package source normalizes raw conversion input into plain text.
//
// Adapters are black boxes to the rest of the system: each one turns the
// caller's input value (a URL or pasted text) into Content plus descriptive
// Metadata, or fails with a *domain.InputError whose code is surfaced to the
// caller unchanged.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/repurpose/internal/domain"
)

// CodeUnsupported is the input error code for a kind with no adapter.
const CodeUnsupported = "source_unsupported"

// Source is normalized input.
type Source struct {
	Content  string
	Metadata map[string]any
}

// Adapter normalizes one kind of input.
type Adapter interface {
	// Normalize returns the text content of value. Rejections of the input
	// itself are *domain.InputError; anything else is an infrastructure
	// failure.
	Normalize(ctx context.Context, value string) (*Source, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, value string) (*Source, error)

// Normalize calls f.
func (f AdapterFunc) Normalize(ctx context.Context, value string) (*Source, error) {
	return f(ctx, value)
}

// Registry maps source kinds to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.SourceKind]Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[domain.SourceKind]Adapter),
		logger:   logger.With(slog.String("component", "source_registry")),
	}
}

// Register sets the adapter for kind, replacing any previous one.
func (r *Registry) Register(kind domain.SourceKind, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
}

// Normalize dispatches value to the adapter registered for kind.
func (r *Registry) Normalize(ctx context.Context, kind domain.SourceKind, value string) (*Source, error) {
	r.mu.RLock()
	a, ok := r.adapters[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewInputError(kind, CodeUnsupported,
			fmt.Sprintf("%s sources are not supported", kind))
	}

	src, err := a.Normalize(ctx, value)
	if err != nil {
		return nil, err
	}
	if src.Metadata == nil {
		src.Metadata = map[string]any{}
	}
	r.logger.DebugContext(ctx, "source normalized",
		slog.String("kind", string(kind)),
		slog.Int("content_chars", len([]rune(src.Content))))
	return src, nil
}
