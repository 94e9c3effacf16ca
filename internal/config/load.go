package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CONVERT_SERVER_PORT.
const EnvPrefix = "CONVERT"

// Load reads configuration from ./config.yaml (optional), a .env file (optional)
// and CONVERT_* environment variables. Environment variables take precedence.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file path. An empty path searches
// the working directory for config.yaml.
func LoadFrom(configPath string) (*Config, error) {
	// .env never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath == "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.normalize()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct validation plus the cross-field checks validator tags
// cannot express.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if _, ok := cfg.Quota.Plans[cfg.Quota.DefaultPlan]; !ok {
		return fmt.Errorf("configuration validation failed: default plan %q is not defined", cfg.Quota.DefaultPlan)
	}
	if cfg.Generation.Dispatch == DispatchHTTP && cfg.Server.PublicURL == "" {
		return errors.New("configuration validation failed: server.public_url is required when generation.dispatch=http")
	}
	return nil
}

// normalize trims credentials and lower-cases plan names. Secrets pasted into
// env files often carry a trailing newline.
func (c *Config) normalize() {
	c.Auth.JWTSecret = strings.TrimSpace(c.Auth.JWTSecret)
	c.Auth.InternalSecret = strings.TrimSpace(c.Auth.InternalSecret)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.Database.URL = strings.TrimSpace(c.Database.URL)
	c.Quota.DefaultPlan = strings.ToLower(strings.TrimSpace(c.Quota.DefaultPlan))

	if len(c.Quota.Plans) > 0 {
		plans := make(map[string]PlanConfig, len(c.Quota.Plans))
		for name, plan := range c.Quota.Plans {
			plans[strings.ToLower(strings.TrimSpace(name))] = plan
		}
		c.Quota.Plans = plans
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.public_url", "")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.internal_secret", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("llm.default_retry_after", 30*time.Second)

	v.SetDefault("generation.initial_delay", 5*time.Second)
	v.SetDefault("generation.inter_format_delay", 20*time.Second)
	v.SetDefault("generation.retry_backoff", 30*time.Second)
	v.SetDefault("generation.max_retries", 2)
	v.SetDefault("generation.max_input_chars", 20000)
	v.SetDefault("generation.task_timeout", 2*time.Minute)
	v.SetDefault("generation.dispatch", DispatchInProcess)
	v.SetDefault("generation.partial_outputs", "retain")

	v.SetDefault("ratelimit.requests", 10)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("quota.low_usage_threshold", 0.8)
	v.SetDefault("quota.default_plan", "free")
	v.SetDefault("quota.plans", map[string]any{
		"free":    map[string]any{"conversions_per_month": 3, "regenerations_per_month": 0},
		"creator": map[string]any{"conversions_per_month": 30, "regenerations_per_month": 10},
		"pro":     map[string]any{"conversions_per_month": 100, "regenerations_per_month": 50},
	})

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.interval", time.Minute)
	v.SetDefault("reaper.stale_after", 5*time.Minute)
	v.SetDefault("reaper.redispatch_pending_after", time.Minute)

	v.SetDefault("sources.extractor_url", "")
	v.SetDefault("sources.timeout", 30*time.Second)
	v.SetDefault("sources.min_text_words", 50)

	v.SetDefault("notify.webhook_url", "")
}
