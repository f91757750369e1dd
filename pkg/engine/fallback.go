package engine

import (
	"context"
	"strconv"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/prompts"
)

// FallbackSource proposes a destination for states outside the rule chain. Its
// answer is free text; the router parses and gates it.
type FallbackSource interface {
	Name() string
	Decide(ctx context.Context, facts domain.RoutingFacts) (string, error)
}

// StaticFallback always proposes finish.
type StaticFallback struct{}

func (StaticFallback) Name() string { return "static" }

func (StaticFallback) Decide(context.Context, domain.RoutingFacts) (string, error) {
	return string(domain.DestFinish), nil
}

// SupervisorFallback asks the completion capability to pick the next step.
type SupervisorFallback struct {
	Completer llm.Completer
}

func (SupervisorFallback) Name() string { return "llm" }

func (f SupervisorFallback) Decide(ctx context.Context, facts domain.RoutingFacts) (string, error) {
	return f.Completer.Complete(ctx, prompts.TemplateSupervisor, map[string]any{
		"has_context":     yesNo(facts.HasContext),
		"has_candidates":  yesNo(facts.HasCandidates),
		"has_evaluations": yesNo(facts.HasEvaluations),
		"match_count":     strconv.Itoa(facts.QualifiedCount),
		"has_draft":       yesNo(facts.HasDraft),
		"authorized":      yesNo(facts.Authorized),
	})
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
