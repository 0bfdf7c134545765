// Package config loads and validates harness configuration.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hephlab/ragprobe/internal/cost"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

// UnmarshalYAML accepts either a Go duration string or integer seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value %q", value.Value)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML renders the duration in Go string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendKind selects the LLM backend variant once at construction.
// Components never probe per call which backend is present.
type BackendKind string

const (
	BackendNone      BackendKind = "none"
	BackendAnthropic BackendKind = "anthropic"
	BackendOpenAI    BackendKind = "openai"
)

// SessionScope governs how session ids are shared across a batch.
type SessionScope string

const (
	// ScopeGlobal shares one session across the whole run, so the RAG
	// backend accumulates conversational memory over every item.
	ScopeGlobal SessionScope = "global"
	// ScopeCategory shares one session per category.
	ScopeCategory SessionScope = "category"
	// ScopeNone gives every item a fresh session.
	ScopeNone SessionScope = "none"
)

// Weights are the per-criterion weights for the overall score.
// They must sum to 1.0.
type Weights struct {
	TechnicalAccuracy float64 `yaml:"technical_accuracy"`
	Completeness      float64 `yaml:"completeness"`
	Clarity           float64 `yaml:"clarity"`
	ImageReference    float64 `yaml:"image_reference"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.TechnicalAccuracy + w.Completeness + w.Clarity + w.ImageReference
}

// RateTable holds per-token pricing for one backend family.
type RateTable struct {
	InputPerToken  float64 `yaml:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token"`
}

// Rates converts the table into the cost package's value type.
func (t RateTable) Rates() cost.Rates {
	return cost.Rates{InputPerToken: t.InputPerToken, OutputPerToken: t.OutputPerToken}
}

// Backend configures the LLM backend used for question generation and
// answer evaluation.
type Backend struct {
	Kind      BackendKind `yaml:"kind"`
	APIKey    string      `yaml:"api_key"`
	Model     string      `yaml:"model"`
	BaseURL   string      `yaml:"base_url"`
	MaxTokens int         `yaml:"max_tokens"`
	Timeout   Duration    `yaml:"timeout"`
}

// Config is the full harness configuration.
type Config struct {
	RagURL         string       `yaml:"rag_url"`
	RagTimeout     Duration     `yaml:"rag_timeout"`
	MaxRetries     int          `yaml:"max_retries"`
	RetryBackoff   Duration     `yaml:"retry_backoff"`
	DelayBetween   Duration     `yaml:"delay_between_tests"`
	MaxPerCategory int          `yaml:"max_per_category"`
	SessionScope   SessionScope `yaml:"session_scope"`

	Backend Backend `yaml:"backend"`

	// EvaluatorRates prices backend calls (question generation, evaluation);
	// RagRates prices the RAG exchange itself.
	EvaluatorRates RateTable `yaml:"evaluator_rates"`
	RagRates       RateTable `yaml:"rag_rates"`

	Weights Weights `yaml:"weights"`

	// DatabaseURL, when set, enables the Postgres result store.
	DatabaseURL string `yaml:"database_url"`
}

// Default returns a configuration with the stock pricing and weights.
func Default() *Config {
	return &Config{
		RagURL:         "http://localhost:8006/api/v1/query",
		RagTimeout:     Duration(30 * time.Second),
		MaxRetries:     3,
		RetryBackoff:   Duration(2 * time.Second),
		DelayBetween:   Duration(2 * time.Second),
		MaxPerCategory: 5,
		SessionScope:   ScopeGlobal,
		Backend: Backend{
			Kind:      BackendNone,
			MaxTokens: 1000,
			Timeout:   Duration(60 * time.Second),
		},
		EvaluatorRates: RateTable{InputPerToken: 0.000012, OutputPerToken: 0.00006},
		RagRates:       RateTable{InputPerToken: 0.0000025, OutputPerToken: 0.00001},
		Weights: Weights{
			TechnicalAccuracy: 0.4,
			Completeness:      0.3,
			Clarity:           0.2,
			ImageReference:    0.1,
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Fields: []string{fmt.Sprintf("config file %s: %v", path, err)}}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Fields: []string{fmt.Sprintf("config file %s: %v", path, err)}}
	}
	return cfg, nil
}

// ConfigError names every missing or invalid field. It is fatal and surfaced
// before any item is processed.
type ConfigError struct {
	Fields []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, "; ")
}

// Validate checks the configuration and returns a *ConfigError naming every
// problem found, or nil.
func (c *Config) Validate() error {
	var problems []string

	if c.RagURL == "" {
		problems = append(problems, "rag_url is required")
	}
	if c.MaxRetries < 1 {
		problems = append(problems, "max_retries must be at least 1")
	}
	if c.RagTimeout <= 0 {
		problems = append(problems, "rag_timeout must be positive")
	}

	switch c.SessionScope {
	case ScopeGlobal, ScopeCategory, ScopeNone:
	default:
		problems = append(problems, fmt.Sprintf("session_scope %q is not one of global, category, none", c.SessionScope))
	}

	switch c.Backend.Kind {
	case BackendNone:
	case BackendAnthropic, BackendOpenAI:
		if c.Backend.APIKey == "" {
			problems = append(problems, fmt.Sprintf("backend.api_key is required for kind %q", c.Backend.Kind))
		}
		if c.Backend.Model == "" {
			problems = append(problems, fmt.Sprintf("backend.model is required for kind %q", c.Backend.Kind))
		}
	default:
		problems = append(problems, fmt.Sprintf("backend.kind %q is not one of none, anthropic, openai", c.Backend.Kind))
	}

	if sum := c.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		problems = append(problems, fmt.Sprintf("weights must sum to 1.0, got %.6f", sum))
	}

	if len(problems) > 0 {
		return &ConfigError{Fields: problems}
	}
	return nil
}
