package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversionStatus represents the processing state of a conversion job.
type ConversionStatus string

// Possible conversion status values
const (
	StatusPending    ConversionStatus = "pending"
	StatusProcessing ConversionStatus = "processing"
	StatusCompleted  ConversionStatus = "completed"
	StatusFailed     ConversionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ConversionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s ConversionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s ConversionStatus) CanTransitionTo(next ConversionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Validation errors for Conversion
var (
	ErrEmptyConversionID     = errors.New("conversion ID cannot be empty")
	ErrEmptyConversionUserID = errors.New("conversion user ID cannot be empty")
	ErrEmptySourceText       = errors.New("conversion source text cannot be empty")
	ErrInvalidSourceKind     = errors.New("invalid source kind")
	ErrInvalidTone           = errors.New("invalid tone")
	ErrInvalidStatus         = errors.New("invalid conversion status")
	ErrTooManyTopics         = fmt.Errorf("at most %d topics are allowed", MaxTopics)
)

// Conversion is one request to turn a long-form source into every output format.
// It is created pending by admission and mutated only by the orchestrator.
type Conversion struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	SourceKind     SourceKind       `json:"source_kind"`
	SourceText     string           `json:"-"`
	SourceMetadata map[string]any   `json:"source_metadata,omitempty"`
	Tone           Tone             `json:"tone"`
	Topics         []string         `json:"topics,omitempty"`
	Status         ConversionStatus `json:"status"`
	ErrorMessage   *string          `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// NewConversion creates a pending Conversion with a fresh ID.
// Returns an error if validation fails.
func NewConversion(
	userID uuid.UUID,
	kind SourceKind,
	text string,
	metadata map[string]any,
	tone Tone,
	topics []string,
) (*Conversion, error) {
	c := &Conversion{
		ID:             uuid.New(),
		UserID:         userID,
		SourceKind:     kind,
		SourceText:     text,
		SourceMetadata: metadata,
		Tone:           tone,
		Topics:         topics,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks if the Conversion has valid data.
func (c *Conversion) Validate() error {
	if c.ID == uuid.Nil {
		return ErrEmptyConversionID
	}
	if c.UserID == uuid.Nil {
		return ErrEmptyConversionUserID
	}
	if strings.TrimSpace(c.SourceText) == "" {
		return ErrEmptySourceText
	}
	if !c.SourceKind.Valid() {
		return ErrInvalidSourceKind
	}
	if !c.Tone.Valid() {
		return ErrInvalidTone
	}
	if len(c.Topics) > MaxTopics {
		return ErrTooManyTopics
	}
	if !c.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// Error returns the stored failure message, or "".
func (c *Conversion) Error() string {
	if c.ErrorMessage == nil {
		return ""
	}
	return *c.ErrorMessage
}

// NormalizeTopics trims each topic and enforces the topic limits.
// A nil or empty input yields nil.
func NormalizeTopics(topics []string) ([]string, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	if len(topics) > MaxTopics {
		return nil, NewValidationError("topics", ErrTooManyTopics.Error())
	}

	out := make([]string, 0, len(topics))
	for i, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, NewValidationError("topics", fmt.Sprintf("topic %d is empty", i))
		}
		if len([]rune(topic)) > MaxTopicLength {
			return nil, NewValidationError("topics",
				fmt.Sprintf("topic %d is longer than %d characters", i, MaxTopicLength))
		}
		out = append(out, topic)
	}
	return out, nil
}
