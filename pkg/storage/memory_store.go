package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/polisai/polis-recruit/pkg/domain"
)

// MemoryJournal is an in-memory implementation of JournalStore.
type MemoryJournal struct {
	mu   sync.RWMutex
	runs map[string][]domain.TraceEntry
}

// NewMemoryJournal creates a new MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		runs: make(map[string][]domain.TraceEntry),
	}
}

// Record appends entry to the run's journal.
func (s *MemoryJournal) Record(_ context.Context, runID string, entry domain.TraceEntry) error {
	if runID == "" {
		return fmt.Errorf("record: run id is empty")
	}
	entry.Fields = append([]string(nil), entry.Fields...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = append(s.runs[runID], entry)
	return nil
}

// Entries returns a copy of the run's journal.
func (s *MemoryJournal) Entries(_ context.Context, runID string) ([]domain.TraceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return append([]domain.TraceEntry(nil), entries...), nil
}

// Close is a no-op for memory store.
func (s *MemoryJournal) Close() error {
	return nil
}
