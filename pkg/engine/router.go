package engine

import (
	"context"
	"log/slog"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/telemetry"
)

// rule is one predicate of the routing chain.
type rule struct {
	when func(domain.State) bool
	dest domain.Destination
}

// chain is evaluated top to bottom; the first matching predicate wins.
var chain = []rule{
	{func(s domain.State) bool { return s.PrimaryContext == "" }, domain.DestAnalyze},
	{func(s domain.State) bool { return len(s.CandidateItems) == 0 }, domain.DestGenerate},
	{func(s domain.State) bool { return len(s.Evaluations) == 0 }, domain.DestEvaluate},
	{func(s domain.State) bool { return len(s.QualifiedSubset) == 0 }, domain.DestFinish},
	{func(s domain.State) bool { return !s.HasDraft() }, domain.DestDraft},
	{func(s domain.State) bool { return s.Authorized }, domain.DestTransmit},
	{func(s domain.State) bool { return !s.Authorized }, domain.DestFinish},
}

// Chain applies the deterministic rules to s. rule is the 1-based index of the
// matching predicate. ok is false when no predicate matched or s violates the
// data-model invariants; the caller then consults the fallback.
func Chain(s domain.State) (dest domain.Destination, index int, ok bool) {
	if s.Consistent() != nil {
		return "", 0, false
	}
	for i, r := range chain {
		if r.when(s) {
			return r.dest, i + 1, true
		}
	}
	return "", 0, false
}

// RouterConfig holds dependencies for creating a Router.
type RouterConfig struct {
	// Fallback decides states the chain does not cover. Nil means always finish.
	Fallback FallbackSource
	// Disabled destinations are coerced to finish whatever chose them.
	Disabled map[domain.Destination]bool
	Logger   *slog.Logger
}

// Router picks the next destination from the accumulated state.
type Router struct {
	fallback FallbackSource
	disabled map[domain.Destination]bool
	logger   *slog.Logger
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = StaticFallback{}
	}
	disabled := make(map[domain.Destination]bool, len(cfg.Disabled))
	for dest, off := range cfg.Disabled {
		if off && dest != domain.DestFinish {
			disabled[dest] = true
		}
	}
	return &Router{fallback: fallback, disabled: disabled, logger: logger}
}

// Route returns the next destination for s. It never fails: every fault on the
// fallback path resolves to finish.
func (r *Router) Route(ctx context.Context, s domain.State) domain.Decision {
	var decision domain.Decision
	if dest, index, ok := Chain(s); ok {
		decision = domain.Decision{Destination: dest, Rule: index}
	} else {
		decision = r.consultFallback(ctx, s)
	}

	if decision.Destination != domain.DestFinish && r.disabled[decision.Destination] {
		decision = coerce(decision, "destination "+string(decision.Destination)+" is disabled")
	}

	telemetry.RecordRouteDecision(ctx, telemetry.RouteMetrics{
		Destination: string(decision.Destination),
		Rule:        decision.Rule,
		Fallback:    decision.Fallback,
		Coerced:     decision.Coerced,
	})
	if decision.Coerced {
		r.logger.Warn("routing decision coerced to finish",
			"run_id", s.RunID,
			"fallback", decision.Fallback,
			"reason", decision.Reason,
		)
	}
	return decision
}

func (r *Router) consultFallback(ctx context.Context, s domain.State) domain.Decision {
	base := domain.Decision{Fallback: true, Destination: domain.DestFinish}
	if err := s.Consistent(); err != nil {
		base.Reason = err.Error()
	}

	raw, err := r.fallback.Decide(ctx, domain.FactsOf(s))
	if err != nil {
		return coerce(base, "fallback "+r.fallback.Name()+" failed: "+err.Error())
	}

	dest, ok := domain.ParseDestination(raw)
	if !ok {
		return coerce(base, "fallback "+r.fallback.Name()+" returned unknown destination "+quoteShort(raw))
	}
	if dest == domain.DestTransmit && !s.Authorized {
		return coerce(base, "fallback "+r.fallback.Name()+" chose transmit without authorization")
	}

	r.logger.Info("fallback routing decision",
		"run_id", s.RunID,
		"source", r.fallback.Name(),
		"destination", dest,
	)
	base.Destination = dest
	return base
}

func coerce(d domain.Decision, reason string) domain.Decision {
	d.Destination = domain.DestFinish
	d.Coerced = true
	d.Reason = reason
	return d
}

func quoteShort(s string) string {
	const limit = 40
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return "\"" + s + "\""
}
