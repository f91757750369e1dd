// Package handlers implements the work units dispatched by the engine. Every unit
// reads a State snapshot and returns a partial update; capability faults are
// absorbed here and never reach the executor.
package handlers

import (
	"log/slog"

	"github.com/polisai/polis-recruit/pkg/domain"
)

func unitLogger(logger *slog.Logger, dest domain.Destination) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("unit", string(dest))
}
