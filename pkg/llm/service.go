package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polisai/polis-recruit/internal/governance"
	"github.com/polisai/polis-recruit/pkg/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// jsonTemplates lists the templates whose replies are parsed as JSON.
var jsonTemplates = map[string]bool{
	prompts.TemplateAnalyze:  true,
	prompts.TemplateGenerate: true,
	prompts.TemplateScreen:   true,
}

// ServiceConfig holds dependencies for creating a Service.
type ServiceConfig struct {
	Provider    Provider
	Renderer    *prompts.Renderer
	Retry       governance.RetryConfig
	Breaker     governance.CircuitBreakerConfig
	Timeout     time.Duration
	Temperature float64
	Logger      *slog.Logger
}

// Service is the production Completer.
type Service struct {
	provider    Provider
	renderer    *prompts.Renderer
	retry       *governance.RetryPolicy
	breaker     *governance.CircuitBreaker
	timeout     time.Duration
	temperature float64
	logger      *slog.Logger
}

// NewService wires a provider with rendering, retries and circuit breaking.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("llm: provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = prompts.NewRenderer(nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Service{
		provider:    cfg.Provider,
		renderer:    renderer,
		retry:       governance.NewRetryPolicy(cfg.Retry),
		breaker:     governance.NewCircuitBreaker(cfg.Breaker),
		timeout:     timeout,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Complete renders template with vars and returns the model's text reply.
func (s *Service) Complete(ctx context.Context, template string, vars map[string]any) (string, error) {
	ctx, span := otel.Tracer("recruit.llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", s.provider.Name()),
		attribute.String("llm.template", template),
	)

	prompt, err := s.renderer.Render(ctx, template, vars)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return "", err
	}

	req := Request{Prompt: prompt, JSON: jsonTemplates[template], Temperature: s.temperature}

	var reply string
	start := time.Now()
	retries, err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			out, err := s.provider.Generate(callCtx, req)
			if err != nil {
				return err
			}
			if strings.TrimSpace(out) == "" {
				return ErrEmptyCompletion
			}
			reply = out
			return nil
		})
	})
	span.SetAttributes(attribute.Int("llm.retries", retries))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		s.logger.Warn("completion failed",
			"provider", s.provider.Name(),
			"template", template,
			"retries", retries,
			"error", err,
		)
		return "", fmt.Errorf("complete %s: %w", template, err)
	}

	s.logger.Debug("completion finished",
		"provider", s.provider.Name(),
		"template", template,
		"retries", retries,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}
