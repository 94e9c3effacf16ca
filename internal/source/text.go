package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/repurpose/internal/domain"
)

// CodeTextTooShort is returned when pasted text has fewer words than required.
const CodeTextTooShort = "text_too_short"

// TextAdapter accepts pasted text as-is after trimming.
type TextAdapter struct {
	// MinWords is the minimum word count; zero only rejects blank input.
	MinWords int
}

var _ Adapter = TextAdapter{}

// Normalize implements Adapter.
func (a TextAdapter) Normalize(_ context.Context, value string) (*Source, error) {
	content := strings.TrimSpace(value)
	words := len(strings.Fields(content))

	minWords := a.MinWords
	if minWords < 1 {
		minWords = 1
	}
	if words < minWords {
		return nil, domain.NewInputError(domain.SourceKindText, CodeTextTooShort,
			fmt.Sprintf("text has %d words, at least %d are required", words, minWords))
	}

	return &Source{
		Content: content,
		Metadata: map[string]any{
			"wordCount": words,
			"charCount": len([]rune(content)),
		},
	}, nil
}
