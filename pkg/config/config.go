// Package config provides configuration structures and loading logic for the
// recruitment engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/polis-recruit/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Routing   RoutingConfig   `yaml:"routing"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Mail      MailConfig      `yaml:"mail"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Journal   JournalConfig   `yaml:"journal"`
}

// ServerConfig holds configuration for the HTTP front end.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RunsPerSecond limits run admission. Zero disables the limit.
	RunsPerSecond float64    `yaml:"runs_per_second"`
	RunsBurst     int        `yaml:"runs_burst"`
	TLS           *TLSConfig `yaml:"tls,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LLMConfig selects and tunes the completion provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	// BreakerFailures opens the circuit after this many consecutive failures.
	BreakerFailures int `yaml:"breaker_failures"`
}

// PipelineConfig tunes the work units and the engine loop.
type PipelineConfig struct {
	MatchThreshold      int      `yaml:"match_threshold"`
	MaxSteps            int      `yaml:"max_steps"`
	MaxCandidates       int      `yaml:"max_candidates"`
	AnalyzeEnabled      *bool    `yaml:"analyze_enabled"`
	DefaultInstructions string   `yaml:"default_instructions"`
	Signature           string   `yaml:"signature"`
	DisabledSteps       []string `yaml:"disabled_steps"`
}

// RoutingConfig selects the fallback routing source.
type RoutingConfig struct {
	Fallback   string `yaml:"fallback"`
	RegoModule string `yaml:"rego_module"`
}

// PromptsConfig points at an optional directory of template overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir"`
}

// MailConfig tunes outbound mail. Gateway credentials come from the SMTP_*
// environment variables only.
type MailConfig struct {
	Subject  string        `yaml:"subject"`
	FromName string        `yaml:"from_name"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	ServiceName    string        `yaml:"service_name"`
	Environment    string        `yaml:"environment"`
	Insecure       bool          `yaml:"insecure"`
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// JournalConfig enables the decision journal when Path is set.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Fallback sources.
const (
	FallbackStatic = "static"
	FallbackLLM    = "llm"
	FallbackRego   = "rego"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	analyze := true
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:        "openai",
			Temperature:     0.1,
			Timeout:         60 * time.Second,
			MaxRetries:      2,
			BreakerFailures: 5,
		},
		Pipeline: PipelineConfig{
			MatchThreshold: 75,
			MaxSteps:       6,
			MaxCandidates:  10,
			AnalyzeEnabled: &analyze,
		},
		Routing: RoutingConfig{Fallback: FallbackStatic},
		Mail:    MailConfig{Timeout: 30 * time.Second},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML into cfg after expanding ${VAR} references.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg)
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("RECRUIT_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}
	if val := os.Getenv("RECRUIT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if cfg.LLM.APIKey == "" {
		for _, name := range apiKeyVars(cfg.LLM.Provider) {
			if val := os.Getenv(name); val != "" {
				cfg.LLM.APIKey = val
				break
			}
		}
	}

	if val := os.Getenv("RECRUIT_MATCH_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			cfg.Pipeline.MatchThreshold = n
		}
	}
	if val := os.Getenv("RECRUIT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("RECRUIT_JOURNAL_PATH"); val != "" {
		cfg.Journal.Path = val
	}
}

func apiKeyVars(provider string) []string {
	if strings.EqualFold(provider, "gemini") {
		return []string{"RECRUIT_LLM_API_KEY", "GEMINI_API_KEY"}
	}
	return []string{"RECRUIT_LLM_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"}
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}
	if err := c.Routing.Validate(); err != nil {
		return fmt.Errorf("routing configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8000"
	}
	if c.RunsPerSecond < 0 {
		return NewConfigValidationError("runs_per_second", c.RunsPerSecond, "must not be negative")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return NewConfigValidationError("level", c.Level, "unknown log level").
			WithSuggestion("Use one of debug, info, warn, error")
	}
}

// Validate performs validation of the provider selection.
func (c *LLMConfig) Validate() error {
	provider := strings.TrimSpace(strings.ToLower(c.Provider))
	if provider == "" {
		provider = "openai"
	}
	switch provider {
	case "openai", "gemini":
		c.Provider = provider
	default:
		return NewConfigValidationError("provider", c.Provider, "unsupported provider").
			WithSuggestion("Use openai for any OpenAI-compatible API (Groq, OpenAI) or gemini")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return NewConfigValidationError("temperature", c.Temperature, "must be within [0, 2]")
	}
	if c.MaxRetries < 0 {
		return NewConfigValidationError("max_retries", c.MaxRetries, "must not be negative")
	}
	return nil
}

// Validate performs validation of pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.MatchThreshold < 1 || c.MatchThreshold > 100 {
		return NewConfigValidationError("match_threshold", c.MatchThreshold, "must be within [1, 100]")
	}
	// one dispatch per work unit; finish is not dispatched
	if minSteps := len(domain.Destinations) - 1; c.MaxSteps < minSteps {
		return NewConfigValidationError("max_steps", c.MaxSteps, fmt.Sprintf("must be at least %d", minSteps))
	}
	if c.MaxCandidates < 1 {
		return NewConfigValidationError("max_candidates", c.MaxCandidates, "must be at least 1")
	}
	if _, err := c.Disabled(); err != nil {
		return err
	}
	return nil
}

// Disabled parses DisabledSteps. Analyze and finish cannot be disabled.
func (c *PipelineConfig) Disabled() ([]domain.Destination, error) {
	out := make([]domain.Destination, 0, len(c.DisabledSteps))
	for _, step := range c.DisabledSteps {
		dest, ok := domain.ParseDestination(step)
		if !ok {
			return nil, NewConfigValidationError("disabled_steps", step, "unknown step")
		}
		if dest == domain.DestAnalyze || dest == domain.DestFinish {
			return nil, NewConfigValidationError("disabled_steps", step, "step cannot be disabled").
				WithSuggestion("Set analyze_enabled: false to skip the analysis capability call")
		}
		out = append(out, dest)
	}
	return out, nil
}

// AnalyzeOn reports whether the analysis capability call is enabled.
func (c *PipelineConfig) AnalyzeOn() bool {
	return c.AnalyzeEnabled == nil || *c.AnalyzeEnabled
}

// Validate performs validation of routing configuration.
func (c *RoutingConfig) Validate() error {
	fallback := strings.TrimSpace(strings.ToLower(c.Fallback))
	if fallback == "" {
		fallback = FallbackStatic
	}
	switch fallback {
	case FallbackStatic, FallbackLLM, FallbackRego:
		c.Fallback = fallback
		return nil
	default:
		return NewConfigValidationError("fallback", c.Fallback, "unknown fallback source").
			WithSuggestion("Use static, llm or rego")
	}
}
