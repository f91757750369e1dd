package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce           sync.Once
	metricsInitErr        error
	unitExecutionCounter  metric.Int64Counter
	unitLatencyHistogram  metric.Float64Histogram
	routeDecisionCounter  metric.Int64Counter
	routeCoercedCounter   metric.Int64Counter
	runCompletionsCounter metric.Int64Counter
)

// UnitMetrics captures the fields needed to record a work unit execution.
type UnitMetrics struct {
	Unit     string
	Outcome  runtime.UnitOutcome
	Duration time.Duration
}

// RecordUnitMetrics emits counters and histograms that describe unit execution behaviour.
func RecordUnitMetrics(ctx context.Context, metrics UnitMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("unit.name", metrics.Unit),
		attribute.String("unit.outcome", string(metrics.Outcome)),
	)
	unitExecutionCounter.Add(ctx, 1, attrs)
	if metrics.Duration > 0 {
		unitLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), attrs)
	}
}

// RouteMetrics describes one routing decision.
type RouteMetrics struct {
	Destination string
	// Rule is the 1-based chain rule, 0 for fallback decisions.
	Rule     int
	Fallback bool
	Coerced  bool
}

// RecordRouteDecision counts routing decisions by destination and origin.
func RecordRouteDecision(ctx context.Context, metrics RouteMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	origin := "rule"
	if metrics.Fallback {
		origin = "fallback"
	}
	attrs := []attribute.KeyValue{
		attribute.String("route.destination", metrics.Destination),
		attribute.String("route.origin", origin),
		attribute.String("route.rule", strconv.Itoa(metrics.Rule)),
	}
	routeDecisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if metrics.Coerced {
		routeCoercedCounter.Add(ctx, 1, metric.WithAttributes(attrs[:2]...))
	}
}

// RecordRunCompletion counts runs by terminal status and reason.
func RecordRunCompletion(ctx context.Context, status, reason string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	runCompletionsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("run.status", status),
		attribute.String("run.reason", reason),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("recruit.engine")

		unitExecutionCounter, metricsInitErr = meter.Int64Counter(
			"recruit.unit.executions_total",
			metric.WithDescription("Work unit executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unitLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"recruit.unit.duration_ms",
			metric.WithDescription("Observed work unit latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		routeDecisionCounter, metricsInitErr = meter.Int64Counter(
			"recruit.route.decisions_total",
			metric.WithDescription("Routing decisions partitioned by destination"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		routeCoercedCounter, metricsInitErr = meter.Int64Counter(
			"recruit.route.coerced_total",
			metric.WithDescription("Routing decisions forced to finish by the safety gate"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		runCompletionsCounter, metricsInitErr = meter.Int64Counter(
			"recruit.run.completions_total",
			metric.WithDescription("Runs that left the engine, by status"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}

// RecordDeliveryEvent attaches the delivery outcome of a transmit step to the
// span without leaking the recipient address.
func RecordDeliveryEvent(span trace.Span, status string, recipient string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("delivery.status", status),
	}
	if recipient != "" {
		attrs = append(attrs, attribute.String("delivery.recipient", MaskValue(recipient)))
	}
	span.AddEvent("delivery.event", trace.WithAttributes(attrs...))
}

// MaskValue keeps the first and last four characters of s.
func MaskValue(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
