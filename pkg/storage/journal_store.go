// Package storage persists the decision journal: every routing decision and
// unit dispatch of every run, in the order the engine produced them.
package storage

import (
	"context"
	"errors"

	"github.com/polisai/polis-recruit/pkg/domain"
)

// ErrNotFound is returned when a run has no journal entries.
var ErrNotFound = errors.New("run not found in journal")

// JournalStore exposes persistence operations for trace entries. It satisfies
// the engine's Recorder.
type JournalStore interface {
	Record(ctx context.Context, runID string, entry domain.TraceEntry) error
	Entries(ctx context.Context, runID string) ([]domain.TraceEntry, error)
	Close() error
}
