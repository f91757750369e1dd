package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps allows one dispatch per destination.
var DefaultMaxSteps = len(domain.Destinations)

// Recorder receives every trace entry of every run. Implementations must not
// block for long; failures are logged and ignored.
type Recorder interface {
	Record(ctx context.Context, runID string, entry domain.TraceEntry) error
}

// ExecutorConfig holds dependencies for creating an Executor.
type ExecutorConfig struct {
	Router   *Router
	Units    map[domain.Destination]runtime.UnitHandler
	MaxSteps int
	Recorder Recorder
	Logger   *slog.Logger
}

// Executor drives a run: route, dispatch, merge, repeat until finish.
type Executor struct {
	router   *Router
	units    map[domain.Destination]runtime.UnitHandler
	maxSteps int
	recorder Recorder
	logger   *slog.Logger
}

// NewExecutor validates that every work destination has a unit.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := cfg.Router
	if router == nil {
		router = NewRouter(RouterConfig{Logger: logger})
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	units := make(map[domain.Destination]runtime.UnitHandler, len(cfg.Units))
	for _, dest := range domain.Destinations {
		if dest == domain.DestFinish {
			continue
		}
		unit, ok := cfg.Units[dest]
		if !ok || unit == nil {
			return nil, fmt.Errorf("%w: no unit registered for %q", domain.ErrUnknownDestination, dest)
		}
		units[dest] = unit
	}

	return &Executor{
		router:   router,
		units:    units,
		maxSteps: maxSteps,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// MaxSteps returns the configured step bound.
func (e *Executor) MaxSteps() int { return e.maxSteps }

// Run executes units against state until the router decides to finish. The only
// error returned for a well-formed state is a step bound trip (or context
// cancellation); everything else is reflected in the returned state.
func (e *Executor) Run(ctx context.Context, state domain.State) (domain.RunResult, error) {
	state = state.Clone()
	state.DeliveryStatus = state.Delivery()

	tracer := otel.Tracer("recruit.engine")
	ctx, span := tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.Bool("run.authorized", state.Authorized),
	))
	defer span.End()

	e.logger.Info("executing run", "run_id", state.RunID, "authorized", state.Authorized)

	result := domain.RunResult{Status: domain.RunRunning}
	var last domain.Destination

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, span, result, state, domain.RunSuspended, domain.ReasonCancelled), err
		}

		decision := e.router.Route(ctx, state)
		state.RouteHint = decision.Destination

		if decision.Destination == domain.DestFinish {
			status, reason := classify(state, decision)
			e.record(ctx, &result, state, domain.TraceEntry{
				Step:      result.Steps,
				Decision:  decision,
				StartedAt: time.Now(),
				Delivery:  string(state.Delivery()),
			})
			return e.finish(ctx, span, result, state, status, reason), nil
		}

		if decision.Destination == last {
			e.logger.Warn("unit made no progress, suspending run",
				"run_id", state.RunID,
				"unit", decision.Destination,
			)
			return e.finish(ctx, span, result, state, domain.RunSuspended, domain.ReasonStalled), nil
		}

		if result.Steps >= e.maxSteps {
			err := fmt.Errorf("run %s: %w (%d)", state.RunID, domain.ErrStepBoundExceeded, e.maxSteps)
			span.RecordError(err)
			span.SetStatus(codes.Error, "step bound exceeded")
			e.logger.Error("step bound exceeded",
				"run_id", state.RunID,
				"max_steps", e.maxSteps,
				"next", decision.Destination,
			)
			return e.finish(ctx, span, result, state, domain.RunAborted, domain.ReasonStepBound), err
		}

		state = e.dispatch(ctx, tracer, &result, state, decision)
		last = decision.Destination
	}
}

func (e *Executor) dispatch(ctx context.Context, tracer trace.Tracer, result *domain.RunResult, state domain.State, decision domain.Decision) domain.State {
	unit := e.units[decision.Destination]
	result.Steps++

	unitCtx, unitSpan := tracer.Start(ctx, "recruit.unit", trace.WithAttributes(
		attribute.String("run.id", state.RunID),
		attribute.String("unit.name", string(decision.Destination)),
		attribute.Int("route.rule", decision.Rule),
		attribute.Bool("route.fallback", decision.Fallback),
		attribute.Int("run.step", result.Steps),
	))

	start := time.Now()
	unitResult := unit.Execute(unitCtx, state.Clone()).WithDefaults()
	duration := time.Since(start)

	// updates produced under a cancelled context are dropped, except Transmit's:
	// its send may already have happened.
	if err := ctx.Err(); err != nil && decision.Destination != domain.DestTransmit {
		unitSpan.SetStatus(codes.Error, "cancelled")
		unitSpan.End()
		e.logger.Warn("run cancelled during unit, discarding its update",
			"run_id", state.RunID,
			"step", result.Steps,
			"unit", decision.Destination,
		)
		e.record(ctx, result, state, domain.TraceEntry{
			Step:      result.Steps,
			Decision:  decision,
			Outcome:   domain.ReasonCancelled,
			Detail:    err.Error(),
			Delivery:  string(state.Delivery()),
			StartedAt: start,
			Duration:  duration,
		})
		return state
	}
	next := state.Apply(unitResult.Update)

	unitSpan.SetAttributes(
		attribute.String("unit.outcome", string(unitResult.Outcome)),
		attribute.String("delivery.status", string(next.Delivery())),
	)
	if decision.Destination == domain.DestTransmit {
		telemetry.RecordDeliveryEvent(unitSpan, string(next.Delivery()), next.TargetAddress)
	}
	if unitResult.Outcome == runtime.OutcomeFailure {
		unitSpan.SetStatus(codes.Error, unitResult.Detail)
	}
	unitSpan.End()

	telemetry.RecordUnitMetrics(ctx, telemetry.UnitMetrics{
		Unit:     string(decision.Destination),
		Outcome:  unitResult.Outcome,
		Duration: duration,
	})

	e.logger.Info("unit executed",
		"run_id", state.RunID,
		"step", result.Steps,
		"unit", decision.Destination,
		"rule", decision.Rule,
		"outcome", unitResult.Outcome,
		"fields", unitResult.Update.Fields(),
		"duration_ms", duration.Milliseconds(),
	)

	e.record(ctx, result, next, domain.TraceEntry{
		Step:      result.Steps,
		Decision:  decision,
		Outcome:   string(unitResult.Outcome),
		Fields:    unitResult.Update.Fields(),
		Detail:    unitResult.Detail,
		Delivery:  string(next.Delivery()),
		StartedAt: start,
		Duration:  duration,
	})
	return next
}

func (e *Executor) record(ctx context.Context, result *domain.RunResult, state domain.State, entry domain.TraceEntry) {
	result.Trace = append(result.Trace, entry)
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(context.WithoutCancel(ctx), state.RunID, entry); err != nil {
		e.logger.Warn("failed to record trace entry", "run_id", state.RunID, "step", entry.Step, "error", err)
	}
}

func (e *Executor) finish(ctx context.Context, span trace.Span, result domain.RunResult, state domain.State, status domain.RunStatus, reason string) domain.RunResult {
	result.State = state
	result.Status = status
	result.Reason = reason

	span.SetAttributes(
		attribute.String("run.status", string(status)),
		attribute.String("run.reason", reason),
		attribute.Int("run.steps", result.Steps),
	)
	telemetry.RecordRunCompletion(ctx, string(status), reason)

	e.logger.Info("run finished",
		"run_id", state.RunID,
		"status", status,
		"reason", reason,
		"steps", result.Steps,
		"delivery_status", state.Delivery(),
	)
	return result
}

// classify maps a finished state onto a run status.
func classify(s domain.State, decision domain.Decision) (domain.RunStatus, string) {
	switch s.Delivery() {
	case domain.DeliveryDelivered:
		return domain.RunCompleted, domain.ReasonDelivered
	case domain.DeliverySkipped:
		if s.HasDraft() {
			return domain.RunCompleted, domain.ReasonSimulated
		}
		return domain.RunCompleted, domain.ReasonNoQualified
	}

	switch {
	case len(s.Evaluations) > 0 && len(s.QualifiedSubset) == 0:
		return domain.RunSuspended, domain.ReasonNoQualified
	case domain.AwaitingApproval(s):
		return domain.RunSuspended, domain.ReasonAwaitingApproval
	case s.Delivery() == domain.DeliveryFailedValidation:
		return domain.RunSuspended, domain.ReasonDeliveryFailed
	case decision.Reason != "":
		return domain.RunSuspended, decision.Reason
	default:
		return domain.RunSuspended, domain.ReasonAwaitingApproval
	}
}

// IsEngineFault reports whether err is an engine-level failure rather than a
// caller problem.
func IsEngineFault(err error) bool {
	return errors.Is(err, domain.ErrStepBoundExceeded) || errors.Is(err, domain.ErrUnknownDestination)
}
