package domain

import (
	"strings"
	"time"
)

// Destination names the next step chosen by the router.
type Destination string

const (
	DestAnalyze  Destination = "analyze"
	DestGenerate Destination = "generate"
	DestEvaluate Destination = "evaluate"
	DestDraft    Destination = "draft"
	DestTransmit Destination = "transmit"
	DestFinish   Destination = "finish"
)

// Destinations lists every destination in pipeline order.
var Destinations = []Destination{DestAnalyze, DestGenerate, DestEvaluate, DestDraft, DestTransmit, DestFinish}

var destinationAliases = map[string]Destination{
	"analyze":             DestAnalyze,
	"analyze_query":       DestAnalyze,
	"generate":            DestGenerate,
	"generate_candidates": DestGenerate,
	"evaluate":            DestEvaluate,
	"evaluate_candidates": DestEvaluate,
	"draft":               DestDraft,
	"generate_outreach":   DestDraft,
	"transmit":            DestTransmit,
	"send_outreach":       DestTransmit,
	"finish":              DestFinish,
}

// ParseDestination maps free-form text (canonical names or legacy step names, any
// case, surrounding whitespace or quotes) onto a Destination.
func ParseDestination(raw string) (Destination, bool) {
	key := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "\"'`."))
	dest, ok := destinationAliases[key]
	return dest, ok
}

// RunStatus classifies how an engine invocation ended.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSuspended RunStatus = "suspended"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Reasons attached to a RunResult.
const (
	ReasonAwaitingApproval = "awaiting_approval"
	ReasonNoQualified      = "no_qualified_candidates"
	ReasonDelivered        = "delivered"
	ReasonSimulated        = "simulated"
	ReasonDeliveryFailed   = "delivery_failed"
	ReasonStalled          = "stalled"
	ReasonCancelled        = "cancelled"
	ReasonStepBound        = "step_bound_exceeded"
)

// Decision is one routing outcome. Rule is the 1-based index of the matching chain
// rule, or 0 when the fallback decided.
type Decision struct {
	Destination Destination `json:"destination"`
	Rule        int         `json:"rule"`
	Fallback    bool        `json:"fallback,omitempty"`
	Coerced     bool        `json:"coerced,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// TraceEntry records one engine step.
type TraceEntry struct {
	Step      int           `json:"step"`
	Decision  Decision      `json:"decision"`
	Outcome   string        `json:"outcome,omitempty"`
	Fields    []string      `json:"fields,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Delivery  string        `json:"delivery_status,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// RunResult is what one engine invocation hands back to the caller.
type RunResult struct {
	State  State        `json:"state"`
	Status RunStatus    `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Steps  int          `json:"steps"`
	Trace  []TraceEntry `json:"trace,omitempty"`
}

// RoutingFacts is the boolean summary of a State that fallback decision sources
// see. It deliberately omits free text.
type RoutingFacts struct {
	HasContext     bool   `json:"has_context"`
	HasCandidates  bool   `json:"has_candidates"`
	HasEvaluations bool   `json:"has_evaluations"`
	MatchCount     int    `json:"match_count"`
	QualifiedCount int    `json:"qualified_count"`
	HasDraft       bool   `json:"has_draft"`
	Authorized     bool   `json:"authorized"`
	DeliveryStatus string `json:"delivery_status"`
	Consistent     bool   `json:"consistent"`
}

// FactsOf summarizes s.
func FactsOf(s State) RoutingFacts {
	return RoutingFacts{
		HasContext:     s.PrimaryContext != "",
		HasCandidates:  len(s.CandidateItems) > 0,
		HasEvaluations: len(s.Evaluations) > 0,
		MatchCount:     s.MatchCount(),
		QualifiedCount: len(s.QualifiedSubset),
		HasDraft:       s.HasDraft(),
		Authorized:     s.Authorized,
		DeliveryStatus: string(s.Delivery()),
		Consistent:     s.Consistent() == nil,
	}
}

// Map returns the facts as a generic map, the shape policy engines and templates consume.
func (f RoutingFacts) Map() map[string]any {
	return map[string]any{
		"has_context":     f.HasContext,
		"has_candidates":  f.HasCandidates,
		"has_evaluations": f.HasEvaluations,
		"match_count":     f.MatchCount,
		"qualified_count": f.QualifiedCount,
		"has_draft":       f.HasDraft,
		"authorized":      f.Authorized,
		"delivery_status": f.DeliveryStatus,
		"consistent":      f.Consistent,
	}
}
