package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FirstPassVersion is the version written by the generation pipeline.
// Regeneration (handled elsewhere) appends higher versions.
const FirstPassVersion = 1

// Output-specific validation errors
var (
	ErrOutputIDEmpty           = errors.New("output ID cannot be empty")
	ErrOutputConversionIDEmpty = errors.New("output conversion ID cannot be empty")
	ErrOutputContentEmpty      = errors.New("output content cannot be empty")
	ErrOutputInvalidFormat     = errors.New("invalid output format")
	ErrOutputInvalidVersion    = errors.New("output version must be at least 1")
)

// Output is one generated artifact for one format of one conversion.
type Output struct {
	ID           uuid.UUID `json:"id"`
	ConversionID uuid.UUID `json:"conversion_id"`
	Format       Format    `json:"format"`
	Content      string    `json:"content"`
	Version      int       `json:"version"`
	TokensUsed   int       `json:"tokens_used"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewOutput creates a first-pass Output for the given conversion and format.
func NewOutput(conversionID uuid.UUID, format Format, content string, tokensUsed int) (*Output, error) {
	o := &Output{
		ID:           uuid.New(),
		ConversionID: conversionID,
		Format:       format,
		Content:      content,
		Version:      FirstPassVersion,
		TokensUsed:   tokensUsed,
		CreatedAt:    time.Now().UTC(),
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks if the Output has valid data.
func (o *Output) Validate() error {
	if o.ID == uuid.Nil {
		return ErrOutputIDEmpty
	}
	if o.ConversionID == uuid.Nil {
		return ErrOutputConversionIDEmpty
	}
	if !o.Format.Valid() {
		return ErrOutputInvalidFormat
	}
	if strings.TrimSpace(o.Content) == "" {
		return ErrOutputContentEmpty
	}
	if o.Version < FirstPassVersion {
		return ErrOutputInvalidVersion
	}
	return nil
}

// LatestOutputs keeps the highest version per format and returns them in
// generation order. Formats without any output are omitted.
func LatestOutputs(outputs []*Output) []*Output {
	latest := make(map[Format]*Output, len(Formats))
	for _, o := range outputs {
		if cur, ok := latest[o.Format]; !ok || o.Version > cur.Version {
			latest[o.Format] = o
		}
	}

	result := make([]*Output, 0, len(latest))
	for _, f := range Formats {
		if o, ok := latest[f]; ok {
			result = append(result, o)
		}
	}
	return result
}

// CompletedFormats lists, in generation order, the formats that have at least
// one output.
func CompletedFormats(outputs []*Output) []Format {
	latest := LatestOutputs(outputs)
	formats := make([]Format, 0, len(latest))
	for _, o := range latest {
		formats = append(formats, o.Format)
	}
	return formats
}
