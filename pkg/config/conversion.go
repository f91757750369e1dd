package config

import (
	"github.com/polisai/polis-recruit/internal/governance"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/mail"
	"github.com/polisai/polis-recruit/pkg/telemetry"
)

// EngineSettings converts the pipeline section into engine settings. The
// fallback source is built by the caller because it may need live clients.
func (c *Config) EngineSettings(fallback engine.FallbackSource) (engine.Settings, error) {
	disabled, err := c.Pipeline.Disabled()
	if err != nil {
		return engine.Settings{}, err
	}
	return engine.Settings{
		MaxSteps:            c.Pipeline.MaxSteps,
		MatchThreshold:      c.Pipeline.MatchThreshold,
		MaxCandidates:       c.Pipeline.MaxCandidates,
		AnalyzeEnabled:      c.Pipeline.AnalyzeOn(),
		DefaultInstructions: c.Pipeline.DefaultInstructions,
		Signature:           c.Pipeline.Signature,
		Subject:             c.Mail.Subject,
		Disabled:            disabled,
		Fallback:            fallback,
	}, nil
}

// SMTP merges the SMTP_* environment with the mail section.
func (c *Config) SMTP() mail.SMTPConfig {
	cfg := mail.ConfigFromEnv()
	cfg.FromName = c.Mail.FromName
	cfg.Timeout = c.Mail.Timeout
	return cfg
}

// Retry returns the retry policy for capability calls.
func (c *LLMConfig) Retry() governance.RetryConfig {
	cfg := governance.DefaultRetryConfig()
	cfg.MaxRetries = c.MaxRetries
	return cfg
}

// Breaker returns the circuit breaker settings for capability calls.
func (c *LLMConfig) Breaker() governance.CircuitBreakerConfig {
	cfg := governance.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = c.BreakerFailures
	return cfg
}

// RunLimits returns the admission limits keyed by route id.
func (c *ServerConfig) RunLimits() map[string]governance.RateLimiterConfig {
	if c.RunsPerSecond <= 0 {
		return nil
	}
	return map[string]governance.RateLimiterConfig{
		"runs": {RequestsPerSecond: c.RunsPerSecond, BurstSize: c.RunsBurst},
	}
}

// Telemetry converts the telemetry section.
func (c *TelemetryConfig) Telemetry() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.ServiceName,
		Endpoint:       c.Endpoint,
		Environment:    c.Environment,
		Insecure:       c.Insecure,
		MetricInterval: c.MetricInterval,
	}
}
