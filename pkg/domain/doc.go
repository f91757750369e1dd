// Package domain defines the core business types of the recruitment orchestrator.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. The run State, the partial Update produced by work units, the
// routing vocabulary (Destination, RunStatus) and the error taxonomy live here so that
// the engine, the work units, the capability adapters and the HTTP front end all agree
// on a single shape.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// State is a value type. Work units never mutate it; they return an Update that the
// engine merges by field-name overwrite.
package domain
