package domain

import (
	"fmt"
	"strings"
)

// DeliveryStatus describes where a run stands with respect to outbound delivery.
type DeliveryStatus string

const (
	// DeliveryUnset is the zero status before any drafting happened.
	DeliveryUnset DeliveryStatus = "unset"
	// DeliverySkipped means no transmission took place and none is expected
	// (nothing to draft, or a simulated gateway).
	DeliverySkipped DeliveryStatus = "skipped"
	// DeliveryDraftedPending means a draft exists and waits for caller authorization.
	DeliveryDraftedPending DeliveryStatus = "drafted-pending"
	// DeliveryBlocked means Transmit was reached without authorization.
	DeliveryBlocked DeliveryStatus = "blocked"
	// DeliveryDelivered means the gateway accepted the message.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailedTransient means the gateway could not be reached or timed out.
	DeliveryFailedTransient DeliveryStatus = "failed-transient"
	// DeliveryFailedValidation means the draft or destination address was rejected.
	DeliveryFailedValidation DeliveryStatus = "failed-validation"
)

var deliveryStatuses = map[DeliveryStatus]bool{
	DeliveryUnset:            true,
	DeliverySkipped:          true,
	DeliveryDraftedPending:   true,
	DeliveryBlocked:          true,
	DeliveryDelivered:        true,
	DeliveryFailedTransient:  true,
	DeliveryFailedValidation: true,
}

// Valid reports whether s is a known status. The empty string counts as unset.
func (s DeliveryStatus) Valid() bool {
	return s == "" || deliveryStatuses[s]
}

// Normalize maps the empty string to DeliveryUnset.
func (s DeliveryStatus) Normalize() DeliveryStatus {
	if s == "" {
		return DeliveryUnset
	}
	return s
}

// DraftFailedSentinel is written to the draft artifact when drafting failed. It is
// never transmitted.
const DraftFailedSentinel = "Automated drafting failed. Manual intervention required."

// Evaluation is the screening verdict for one candidate item.
type Evaluation struct {
	CandidateID int    `json:"candidate_id"`
	Name        string `json:"name"`
	Score       int    `json:"score"`
	IsMatch     bool   `json:"is_match"`
	Reasoning   string `json:"reasoning"`
	SourceText  string `json:"source_text,omitempty"`
}

// State is the single record threaded through a run.
type State struct {
	RunID                  string         `json:"run_id,omitempty"`
	RawInput               string         `json:"raw_input"`
	PrimaryContext         string         `json:"primary_context"`
	GenerationInstructions string         `json:"generation_instructions"`
	CandidateItems         []string       `json:"candidate_items"`
	Evaluations            []Evaluation   `json:"evaluations"`
	QualifiedSubset        []Evaluation   `json:"qualified_subset"`
	TargetAddress          string         `json:"target_address"`
	DraftArtifact          string         `json:"draft_artifact"`
	DeliveryStatus         DeliveryStatus `json:"delivery_status"`
	DeliveryDetail         string         `json:"delivery_detail,omitempty"`
	Authorized             bool           `json:"authorized"`
	RouteHint              Destination    `json:"route_hint,omitempty"`
}

// NewState returns a fresh state for the given raw input.
func NewState(runID, rawInput string) State {
	return State{
		RunID:          runID,
		RawInput:       rawInput,
		DeliveryStatus: DeliveryUnset,
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.CandidateItems = cloneSlice(s.CandidateItems)
	out.Evaluations = cloneSlice(s.Evaluations)
	out.QualifiedSubset = cloneSlice(s.QualifiedSubset)
	return out
}

// Delivery returns the normalized delivery status.
func (s State) Delivery() DeliveryStatus {
	return s.DeliveryStatus.Normalize()
}

// HasDraft reports whether a draft artifact exists.
func (s State) HasDraft() bool {
	return strings.TrimSpace(s.DraftArtifact) != ""
}

// Consistent checks the data-model invariants a well-formed state satisfies. A
// state that fails this check was altered outside the engine.
func (s State) Consistent() error {
	if len(s.Evaluations) > len(s.CandidateItems) {
		return fmt.Errorf("%w: %d evaluations for %d candidates", ErrInvalidState, len(s.Evaluations), len(s.CandidateItems))
	}
	for _, ev := range s.Evaluations {
		if ev.Score < 0 || ev.Score > 100 {
			return fmt.Errorf("%w: score %d out of range for %q", ErrInvalidState, ev.Score, ev.Name)
		}
	}
	for _, q := range s.QualifiedSubset {
		if !q.IsMatch {
			return fmt.Errorf("%w: qualified entry %q is not a match", ErrInvalidState, q.Name)
		}
		if !containsEvaluation(s.Evaluations, q) {
			return fmt.Errorf("%w: qualified entry %q has no evaluation", ErrInvalidState, q.Name)
		}
	}
	if !s.DeliveryStatus.Valid() {
		return fmt.Errorf("%w: unknown delivery status %q", ErrInvalidState, s.DeliveryStatus)
	}
	return nil
}

// MatchCount returns the number of evaluations flagged as matches.
func (s State) MatchCount() int {
	n := 0
	for _, ev := range s.Evaluations {
		if ev.IsMatch {
			n++
		}
	}
	return n
}

func containsEvaluation(all []Evaluation, target Evaluation) bool {
	for _, ev := range all {
		if ev.CandidateID == target.CandidateID && ev.Name == target.Name && ev.IsMatch {
			return true
		}
	}
	return false
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
