package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEncoding is the BPE used for the pre-flight prompt estimate.
const TokenEncoding = "cl100k_base"

// TokenEstimator counts prompt tokens for logging. Until Load succeeds it
// estimates four characters per token; Count never loads anything itself.
type TokenEstimator struct {
	load func() (*tiktoken.Tiktoken, error)

	enc     atomic.Pointer[tiktoken.Tiktoken]
	once    sync.Once
	loaded  chan struct{}
	loadErr error
}

// NewTokenEstimator returns an estimator backed by tiktoken. Call Load to
// fetch the encoding; the first load may download it.
func NewTokenEstimator() *TokenEstimator {
	return newTokenEstimator(func() (*tiktoken.Tiktoken, error) {
		return tiktoken.GetEncoding(TokenEncoding)
	})
}

func newTokenEstimator(load func() (*tiktoken.Tiktoken, error)) *TokenEstimator {
	return &TokenEstimator{load: load, loaded: make(chan struct{})}
}

// NewHeuristicTokenEstimator returns an estimator that never loads an
// encoding. Useful offline and in tests.
func NewHeuristicTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

// Load fetches the encoding, giving up when ctx is done. tiktoken's loader
// takes no context, so an abandoned load keeps running in the background and
// is picked up by Count if it eventually succeeds.
func (e *TokenEstimator) Load(ctx context.Context) error {
	if e.load == nil {
		return nil
	}
	e.once.Do(func() {
		go func() {
			enc, err := e.load()
			switch {
			case err != nil:
				e.loadErr = fmt.Errorf("failed to load %s encoding: %w", TokenEncoding, err)
			case enc == nil:
				e.loadErr = errors.New("tokenizer returned no encoding")
			default:
				e.enc.Store(enc)
			}
			close(e.loaded)
		}()
	})

	select {
	case <-e.loaded:
		return e.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count estimates the number of tokens in text.
func (e *TokenEstimator) Count(text string) int {
	if enc := e.enc.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Exact reports whether counts come from the tokenizer rather than the
// fallback heuristic.
func (e *TokenEstimator) Exact() bool {
	return e.enc.Load() != nil
}
