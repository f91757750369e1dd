// Package telemetry wires OpenTelemetry exporters and meters for the
// recruitment engine.
//
// It centralises trace and meter provider setup and offers the metric helpers the
// engine calls per routing decision, unit execution and finished run.
package telemetry
