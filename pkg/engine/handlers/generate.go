package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/prompts"
)

// DefaultMaxCandidates caps the number of generated profiles.
const DefaultMaxCandidates = 10

// GenerateConfig configures the Generate unit.
type GenerateConfig struct {
	Completer     llm.Completer
	MaxCandidates int
	Logger        *slog.Logger
}

// GenerateHandler produces synthetic candidate profiles.
type GenerateHandler struct {
	completer     llm.Completer
	maxCandidates int
	logger        *slog.Logger
}

// NewGenerateHandler creates the unit.
func NewGenerateHandler(cfg GenerateConfig) *GenerateHandler {
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &GenerateHandler{
		completer:     cfg.Completer,
		maxCandidates: maxCandidates,
		logger:        unitLogger(cfg.Logger, domain.DestGenerate),
	}
}

// Execute returns the generated profiles. On any failure the update is empty and
// the state is left as it was; the engine sees no progress.
func (h *GenerateHandler) Execute(ctx context.Context, state domain.State) runtime.UnitResult {
	if len(state.CandidateItems) > 0 {
		return runtime.Success(domain.Update{})
	}
	if h.completer == nil {
		return runtime.Failure(domain.Update{}, "no completion capability")
	}

	raw, err := h.completer.Complete(ctx, prompts.TemplateGenerate, map[string]any{
		"generation_instructions": state.GenerationInstructions,
		"max_candidates":          h.maxCandidates,
	})
	if err != nil {
		h.logger.Warn("candidate generation failed", "run_id", state.RunID, "error", err)
		return runtime.Failure(domain.Update{}, err.Error())
	}

	items, err := parseProfiles(raw)
	if err != nil {
		h.logger.Warn("candidate generation unparsable", "run_id", state.RunID, "error", err)
		return runtime.Failure(domain.Update{}, err.Error())
	}
	if len(items) > h.maxCandidates {
		items = items[:h.maxCandidates]
	}
	if len(items) == 0 {
		return runtime.Failure(domain.Update{}, "no candidate profiles produced")
	}

	h.logger.Info("candidates generated", "run_id", state.RunID, "count", len(items))
	return runtime.Success(domain.Update{CandidateItems: items})
}

func parseProfiles(raw string) ([]string, error) {
	var decoded any
	if err := llm.DecodeJSON(raw, &decoded); err != nil {
		return nil, err
	}

	var list []any
	switch v := decoded.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, key := range []string{"candidates", "profiles"} {
			if inner, ok := v[key].([]any); ok {
				list = inner
				break
			}
		}
	}

	items := make([]string, 0, len(list))
	for _, entry := range list {
		text, ok := entry.(string)
		if !ok {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			items = append(items, text)
		}
	}
	return items, nil
}
