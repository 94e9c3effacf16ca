package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"   validate:"required"`
	Auth       AuthConfig       `mapstructure:"auth"       validate:"required"`
	LLM        LLMConfig        `mapstructure:"llm"        validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"  validate:"required"`
	Quota      QuotaConfig      `mapstructure:"quota"      validate:"required"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// PublicURL is the base URL the HTTP trigger dispatcher posts back to.
	PublicURL string `mapstructure:"public_url" validate:"omitempty,url"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"         validate:"required,oneof=postgres memory"`
	URL          string `mapstructure:"url"            validate:"required_if=Driver postgres"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	// JWTSecret verifies bearer tokens minted by the identity provider.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// InternalSecret guards the orchestrator trigger endpoint.
	InternalSecret string `mapstructure:"internal_secret" validate:"required,min=16"`
}

// LLMConfig contains the completion service settings.
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"            validate:"required,oneof=openai gemini"`
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	BaseURL           string        `mapstructure:"base_url"            validate:"omitempty,url"`
	Model             string        `mapstructure:"model"               validate:"required"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"     validate:"gt=0"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" validate:"gt=0"`
}

// Dispatch modes
const (
	DispatchInProcess = "inprocess"
	DispatchHTTP      = "http"
)

// GenerationConfig tunes the orchestrator's pacing and retry policy.
type GenerationConfig struct {
	InitialDelay     time.Duration `mapstructure:"initial_delay"      validate:"gte=0"`
	InterFormatDelay time.Duration `mapstructure:"inter_format_delay" validate:"gte=0"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"      validate:"gte=0"`
	MaxRetries       int           `mapstructure:"max_retries"        validate:"gte=0,lte=10"`
	MaxInputChars    int           `mapstructure:"max_input_chars"    validate:"gt=0"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"       validate:"gt=0"`
	Dispatch         string        `mapstructure:"dispatch"           validate:"required,oneof=inprocess http"`
	PartialOutputs   string        `mapstructure:"partial_outputs"    validate:"required,oneof=retain discard"`
}

// RateLimitConfig configures the admission sliding window.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gt=0"`
	Window   time.Duration `mapstructure:"window"   validate:"gt=0"`
}

// PlanConfig is the quota attached to one plan name.
type PlanConfig struct {
	ConversionsPerMonth   int `mapstructure:"conversions_per_month"   validate:"gte=0"`
	RegenerationsPerMonth int `mapstructure:"regenerations_per_month" validate:"gte=0"`
}

// QuotaConfig maps plans to monthly limits.
type QuotaConfig struct {
	LowUsageThreshold float64               `mapstructure:"low_usage_threshold" validate:"gt=0,lte=1"`
	DefaultPlan       string                `mapstructure:"default_plan"        validate:"required"`
	Plans             map[string]PlanConfig `mapstructure:"plans"               validate:"required,min=1,dive"`
}

// ReaperConfig controls the sweep for stuck jobs.
type ReaperConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	Interval               time.Duration `mapstructure:"interval"                 validate:"gt=0"`
	StaleAfter             time.Duration `mapstructure:"stale_after"              validate:"gt=0"`
	RedispatchPendingAfter time.Duration `mapstructure:"redispatch_pending_after" validate:"gt=0"`
}

// SourcesConfig configures the input normalisation adapters.
type SourcesConfig struct {
	// ExtractorURL is the remote video/article normaliser. Empty disables
	// the video and article kinds.
	ExtractorURL string        `mapstructure:"extractor_url"  validate:"omitempty,url"`
	Timeout      time.Duration `mapstructure:"timeout"        validate:"gt=0"`
	MinTextWords int           `mapstructure:"min_text_words" validate:"gte=0"`
}

// NotifyConfig configures low-usage notifications.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
}
