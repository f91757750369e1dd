package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-recruit/pkg/config"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/mail"
	"github.com/polisai/polis-recruit/pkg/policy"
	"github.com/polisai/polis-recruit/pkg/prompts"
	"github.com/polisai/polis-recruit/pkg/storage"
)

// app is the wired engine and its long-lived collaborators.
type app struct {
	service   *engine.Service
	completer llm.Completer
	journal   storage.JournalStore
	logger    *slog.Logger
}

// newCompleter is swapped in tests to avoid live providers.
var newCompleter = buildCompleter

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	completer, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	journal, err := openJournal(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, err
	}

	a := &app{completer: completer, journal: journal, logger: logger}
	settings, err := a.settings(ctx, cfg)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	sender := mail.NewSMTPSender(cfg.SMTP(), logger)
	if err := cfg.SMTP().Validate(); err != nil {
		logger.Warn("mail gateway not configured, deliveries will be simulated", "reason", err)
	}

	a.service, err = engine.NewService(settings, engine.Dependencies{
		Completer: completer,
		Sender:    sender,
		Recorder:  journal,
		Logger:    logger,
	})
	if err != nil {
		_ = journal.Close()
		return nil, err
	}
	return a, nil
}

// settings converts cfg, building its routing fallback against the live completer.
func (a *app) settings(ctx context.Context, cfg *config.Config) (engine.Settings, error) {
	fallback, err := buildFallback(ctx, cfg.Routing, a.completer, a.logger)
	if err != nil {
		return engine.Settings{}, err
	}
	return cfg.EngineSettings(fallback)
}

// reload applies a changed configuration to the running engine.
func (a *app) reload(ctx context.Context, cfg *config.Config) error {
	settings, err := a.settings(ctx, cfg)
	if err != nil {
		return err
	}
	return a.service.Reload(settings)
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("failed to close journal", "error", err)
	}
}

func buildCompleter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Completer, error) {
	var provider llm.Provider
	switch strings.ToLower(cfg.LLM.Provider) {
	case "gemini":
		p, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		provider = llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		})
	}

	var templates prompts.Provider = prompts.NewEmbeddedProvider()
	if dir := strings.TrimSpace(cfg.Prompts.Dir); dir != "" {
		templates = prompts.NewLocalProvider(dir, templates)
	}

	svc, err := llm.NewService(llm.ServiceConfig{
		Provider:    provider,
		Renderer:    prompts.NewRenderer(templates),
		Retry:       cfg.LLM.Retry(),
		Breaker:     cfg.LLM.Breaker(),
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func buildFallback(ctx context.Context, cfg config.RoutingConfig, completer llm.Completer, logger *slog.Logger) (engine.FallbackSource, error) {
	switch cfg.Fallback {
	case "", config.FallbackStatic:
		return engine.StaticFallback{}, nil
	case config.FallbackLLM:
		if completer == nil {
			return nil, errors.New("llm fallback requires a completion provider")
		}
		return engine.SupervisorFallback{Completer: completer}, nil
	case config.FallbackRego:
		src, err := policy.NewEngineFromFile(ctx, cfg.RegoModule, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown routing fallback %q", cfg.Fallback)
	}
}

func openJournal(ctx context.Context, path string) (storage.JournalStore, error) {
	if strings.TrimSpace(path) == "" {
		return storage.NewMemoryJournal(), nil
	}
	journal, err := storage.NewSQLiteJournal(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return journal, nil
}
