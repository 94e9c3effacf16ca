package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Plan is the quota attached to a subscription tier.
type Plan struct {
	Name                  string `json:"name"`
	ConversionsPerMonth   int    `json:"conversions_per_month"`
	RegenerationsPerMonth int    `json:"regenerations_per_month"`
}

// UsageCounter is the per-caller count of conversions created in the current
// billing period. Only admission increments it; resets happen in billing.
type UsageCounter struct {
	UserID           uuid.UUID
	ConversionsUsed  int
	PeriodStart      time.Time
	LowUsageNotified bool
	UpdatedAt        time.Time
}

// UsageSnapshot is the caller-facing view of usage against the plan.
type UsageSnapshot struct {
	Plan               string    `json:"plan"`
	ConversionsUsed    int       `json:"conversionsUsed"`
	ConversionsLimit   int       `json:"conversionsLimit"`
	RegenerationsLimit int       `json:"regenerationsLimit"`
	PeriodStart        time.Time `json:"periodStart"`
}

// NewUsageSnapshot combines a counter with its plan.
func NewUsageSnapshot(plan Plan, counter UsageCounter) UsageSnapshot {
	return UsageSnapshot{
		Plan:               plan.Name,
		ConversionsUsed:    counter.ConversionsUsed,
		ConversionsLimit:   plan.ConversionsPerMonth,
		RegenerationsLimit: plan.RegenerationsPerMonth,
		PeriodStart:        counter.PeriodStart,
	}
}

// Remaining returns how many conversions are left, never negative.
func (s UsageSnapshot) Remaining() int {
	if s.ConversionsUsed >= s.ConversionsLimit {
		return 0
	}
	return s.ConversionsLimit - s.ConversionsUsed
}

// Exhausted reports whether no further conversion can be admitted.
func (s UsageSnapshot) Exhausted() bool {
	return s.ConversionsUsed >= s.ConversionsLimit
}

// LowUsageThreshold returns the usage count at which the low-usage notice
// fires for the given limit and fraction (e.g. 0.8 of 10 -> 8). The fraction
// is rounded to permille and the ceiling taken in integers, so 0.7 of 10 is 7
// rather than a float product just above it.
func LowUsageThreshold(limit int, fraction float64) int {
	if limit <= 0 {
		return 0
	}
	permille := int(math.Round(fraction * 1000))
	n := (limit*permille + 999) / 1000
	if n < 1 {
		n = 1
	}
	return n
}

// BillingPeriodStart returns the start of the calendar month containing t, in UTC.
func BillingPeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
