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

// DefaultGenerationInstructions is used when the request could not be split.
const DefaultGenerationInstructions = "Generate 5 diverse candidate profiles with varied seniority whose skills relate to the role described in the request."

// AnalyzeConfig configures the Analyze unit.
type AnalyzeConfig struct {
	Completer llm.Completer
	// Disabled skips the capability and always applies the fallback split.
	Disabled            bool
	DefaultInstructions string
	Logger              *slog.Logger
}

// AnalyzeHandler splits the raw request into the job description and the
// candidate generation instructions.
type AnalyzeHandler struct {
	completer           llm.Completer
	disabled            bool
	defaultInstructions string
	logger              *slog.Logger
}

// NewAnalyzeHandler creates the unit.
func NewAnalyzeHandler(cfg AnalyzeConfig) *AnalyzeHandler {
	instructions := strings.TrimSpace(cfg.DefaultInstructions)
	if instructions == "" {
		instructions = DefaultGenerationInstructions
	}
	return &AnalyzeHandler{
		completer:           cfg.Completer,
		disabled:            cfg.Disabled || cfg.Completer == nil,
		defaultInstructions: instructions,
		logger:              unitLogger(cfg.Logger, domain.DestAnalyze),
	}
}

type analysisReply struct {
	JobDescription   string `json:"job_description"`
	GenerationPrompt string `json:"generation_prompt"`
}

func (h *AnalyzeHandler) Execute(ctx context.Context, state domain.State) runtime.UnitResult {
	if h.disabled {
		return runtime.Success(h.fallback(state))
	}

	raw, err := h.completer.Complete(ctx, prompts.TemplateAnalyze, map[string]any{"raw_input": state.RawInput})
	if err != nil {
		h.logger.Warn("analysis failed, using raw input", "run_id", state.RunID, "error", err)
		return runtime.Degraded(h.fallback(state), err.Error())
	}

	var reply analysisReply
	if err := llm.DecodeJSON(raw, &reply); err != nil || strings.TrimSpace(reply.JobDescription) == "" {
		detail := "analysis reply had no job description"
		if err != nil {
			detail = err.Error()
		}
		h.logger.Warn("analysis unparsable, using raw input", "run_id", state.RunID, "detail", detail)
		return runtime.Degraded(h.fallback(state), detail)
	}

	instructions := strings.TrimSpace(reply.GenerationPrompt)
	if instructions == "" {
		instructions = h.defaultInstructions
	}
	return runtime.Success(domain.Update{
		PrimaryContext:         domain.Ptr(strings.TrimSpace(reply.JobDescription)),
		GenerationInstructions: domain.Ptr(instructions),
	})
}

func (h *AnalyzeHandler) fallback(state domain.State) domain.Update {
	return domain.Update{
		PrimaryContext:         domain.Ptr(state.RawInput),
		GenerationInstructions: domain.Ptr(h.defaultInstructions),
	}
}
