// Package runtime defines the contract shared by the executor and the work units,
// keeping business logic decoupled from execution mechanics.
package runtime

import (
	"context"

	"github.com/polisai/polis-recruit/pkg/domain"
)

// UnitOutcome classifies a work unit execution for logs and metrics. Routing never
// looks at it; only the merged State drives the next hop.
type UnitOutcome string

const (
	// OutcomeSuccess indicates the unit produced its intended update.
	OutcomeSuccess UnitOutcome = "success"
	// OutcomeDegraded indicates a capability fault was absorbed into a fallback update.
	OutcomeDegraded UnitOutcome = "degraded"
	// OutcomeBlocked indicates a precondition (authorization, validation) stopped the unit.
	OutcomeBlocked UnitOutcome = "blocked"
	// OutcomeFailure indicates the unit could not produce anything useful.
	OutcomeFailure UnitOutcome = "failure"
)

// UnitResult bundles the outcome, the partial state update and a short detail.
type UnitResult struct {
	Outcome UnitOutcome
	Update  domain.Update
	Detail  string
}

// WithDefaults ensures the outcome is set even when units omit it.
func (r UnitResult) WithDefaults() UnitResult {
	if r.Outcome == "" {
		r.Outcome = OutcomeSuccess
	}
	return r
}

// Success constructs a success result.
func Success(update domain.Update) UnitResult {
	return UnitResult{Outcome: OutcomeSuccess, Update: update}
}

// Degraded constructs a degraded result carrying the fallback update.
func Degraded(update domain.Update, detail string) UnitResult {
	return UnitResult{Outcome: OutcomeDegraded, Update: update, Detail: detail}
}

// Blocked constructs a blocked result.
func Blocked(update domain.Update, detail string) UnitResult {
	return UnitResult{Outcome: OutcomeBlocked, Update: update, Detail: detail}
}

// Failure constructs a failure result.
func Failure(update domain.Update, detail string) UnitResult {
	return UnitResult{Outcome: OutcomeFailure, Update: update, Detail: detail}
}

// UnitHandler executes one work unit against a read-only state. Implementations
// never return errors: capability faults become degraded updates.
type UnitHandler interface {
	Execute(ctx context.Context, state domain.State) UnitResult
}

// UnitFunc adapts a function to UnitHandler.
type UnitFunc func(ctx context.Context, state domain.State) UnitResult

// Execute calls f.
func (f UnitFunc) Execute(ctx context.Context, state domain.State) UnitResult {
	return f(ctx, state)
}
