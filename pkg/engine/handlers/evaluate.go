package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/prompts"
)

// DefaultMatchThreshold is the minimum score counted as a match.
const DefaultMatchThreshold = 75

// SystemFailureName names the synthetic evaluation emitted when screening failed.
const SystemFailureName = "System Failure"

// EvaluateConfig configures the Evaluate unit.
type EvaluateConfig struct {
	Completer      llm.Completer
	MatchThreshold int
	Logger         *slog.Logger
}

// EvaluateHandler screens every candidate against the job description in one
// batched completion.
type EvaluateHandler struct {
	completer llm.Completer
	threshold int
	logger    *slog.Logger
}

// NewEvaluateHandler creates the unit.
func NewEvaluateHandler(cfg EvaluateConfig) *EvaluateHandler {
	threshold := cfg.MatchThreshold
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultMatchThreshold
	}
	return &EvaluateHandler{
		completer: cfg.Completer,
		threshold: threshold,
		logger:    unitLogger(cfg.Logger, domain.DestEvaluate),
	}
}

// Threshold returns the effective match threshold.
func (h *EvaluateHandler) Threshold() int { return h.threshold }

func (h *EvaluateHandler) Execute(ctx context.Context, state domain.State) runtime.UnitResult {
	if len(state.CandidateItems) == 0 {
		return runtime.Failure(domain.Update{}, "no candidates to evaluate")
	}
	if strings.TrimSpace(state.PrimaryContext) == "" {
		return h.systemFailure(state, "no job description to screen against")
	}
	if h.completer == nil {
		return h.systemFailure(state, "no completion capability")
	}

	raw, err := h.completer.Complete(ctx, prompts.TemplateScreen, map[string]any{
		"job_description":    state.PrimaryContext,
		"formatted_profiles": formatProfiles(state.CandidateItems),
		"match_threshold":    h.threshold,
	})
	if err != nil {
		return h.systemFailure(state, err.Error())
	}

	items, err := screeningItems(raw)
	if err != nil {
		return h.systemFailure(state, err.Error())
	}
	if len(items) == 0 {
		return h.systemFailure(state, "screening reply contained no evaluations")
	}
	if len(items) > len(state.CandidateItems) {
		h.logger.Warn("screening returned more evaluations than candidates, truncating",
			"run_id", state.RunID, "evaluations", len(items), "candidates", len(state.CandidateItems))
		items = items[:len(state.CandidateItems)]
	}

	evaluations := make([]domain.Evaluation, 0, len(items))
	degraded := 0
	for i, item := range items {
		ev, ok := h.evaluation(i, item, state.CandidateItems[i])
		if !ok {
			degraded++
		}
		evaluations = append(evaluations, ev)
	}
	qualified := qualify(evaluations)

	h.logger.Info("candidates evaluated",
		"run_id", state.RunID,
		"evaluated", len(evaluations),
		"qualified", len(qualified),
		"degraded", degraded,
		"threshold", h.threshold,
	)

	update := domain.Update{Evaluations: evaluations, QualifiedSubset: qualified}
	if degraded > 0 {
		return runtime.Degraded(update, fmt.Sprintf("%d malformed evaluations", degraded))
	}
	return runtime.Success(update)
}

// evaluation converts one reply item. ok is false when the item was malformed and
// had to be degraded to a non-match.
func (h *EvaluateHandler) evaluation(index int, item any, source string) (domain.Evaluation, bool) {
	ev := domain.Evaluation{
		CandidateID: index,
		Name:        fmt.Sprintf("Candidate %d", index+1),
		SourceText:  source,
	}

	fields, isObject := item.(map[string]any)
	if !isObject {
		ev.Reasoning = "Malformed evaluation entry"
		return ev, false
	}

	reasoning, _ := fields["reasoning"].(string)
	ev.Reasoning = strings.TrimSpace(reasoning)

	name, _ := fields["name"].(string)
	name = strings.TrimSpace(name)
	score, scoreOK := parseScore(fields["score"])
	if name == "" || !scoreOK {
		if name != "" {
			ev.Name = name
		}
		return ev, false
	}

	ev.Name = name
	ev.Score = score
	ev.IsMatch = score >= h.threshold
	if claimed, ok := fields["is_match"].(bool); ok && claimed != ev.IsMatch {
		h.logger.Debug("screening flag disagrees with threshold",
			"candidate", name, "score", score, "claimed", claimed, "threshold", h.threshold)
	}
	return ev, true
}

func (h *EvaluateHandler) systemFailure(state domain.State, detail string) runtime.UnitResult {
	h.logger.Warn("candidate evaluation failed", "run_id", state.RunID, "error", detail)
	return runtime.Degraded(domain.Update{
		Evaluations: []domain.Evaluation{{
			CandidateID: 0,
			Name:        SystemFailureName,
			Reasoning:   "Fault Details: " + detail,
		}},
		QualifiedSubset: []domain.Evaluation{},
	}, detail)
}

func qualify(evaluations []domain.Evaluation) []domain.Evaluation {
	qualified := make([]domain.Evaluation, 0, len(evaluations))
	for _, ev := range evaluations {
		if ev.IsMatch {
			qualified = append(qualified, ev)
		}
	}
	return qualified
}

func formatProfiles(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Candidate %d ---\n%s", i+1, item)
	}
	return b.String()
}

// screeningItems accepts a list, a {"candidates": [...]} wrapper or a single
// object.
func screeningItems(raw string) ([]any, error) {
	var decoded any
	if err := llm.DecodeJSON(raw, &decoded); err != nil {
		return nil, err
	}
	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"candidates", "evaluations", "results"} {
			if inner, ok := v[key].([]any); ok {
				return inner, nil
			}
		}
		return []any{v}, nil
	default:
		return nil, fmt.Errorf("unexpected screening reply of type %T", decoded)
	}
}

func parseScore(v any) (int, bool) {
	var f float64
	switch s := v.(type) {
	case float64:
		f = s
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "/100")), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(math.Max(0, math.Min(100, f)))), true
}
