package domain

// QualifiedMatch is the public view of a qualified evaluation.
type QualifiedMatch struct {
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Match     bool   `json:"match"`
	Reasoning string `json:"reasoning"`
}

// Summary is the derived, read-only view of a State returned to callers.
type Summary struct {
	TotalProcessed   int              `json:"total_processed"`
	MatchedCount     int              `json:"matched_count"`
	QualifiedMatches []QualifiedMatch `json:"qualified_matches"`
	DeliveryStatus   DeliveryStatus   `json:"delivery_status"`
	DeliveryDetail   string           `json:"delivery_detail,omitempty"`
	DraftArtifact    string           `json:"draft_artifact,omitempty"`
	TargetAddress    string           `json:"target_address,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval"`
}

// Summarize derives the caller-facing summary of s.
func Summarize(s State) Summary {
	matches := make([]QualifiedMatch, 0, len(s.QualifiedSubset))
	for _, q := range s.QualifiedSubset {
		matches = append(matches, QualifiedMatch{
			Name:      q.Name,
			Score:     q.Score,
			Match:     q.IsMatch,
			Reasoning: q.Reasoning,
		})
	}

	return Summary{
		TotalProcessed:   len(s.Evaluations),
		MatchedCount:     len(s.QualifiedSubset),
		QualifiedMatches: matches,
		DeliveryStatus:   s.Delivery(),
		DeliveryDetail:   s.DeliveryDetail,
		DraftArtifact:    s.DraftArtifact,
		TargetAddress:    s.TargetAddress,
		AwaitingApproval: AwaitingApproval(s),
	}
}

// AwaitingApproval reports whether the run parked with a transmittable draft that
// only needs the caller's authorization.
func AwaitingApproval(s State) bool {
	if !s.HasDraft() || s.DraftArtifact == DraftFailedSentinel || s.Authorized {
		return false
	}
	switch s.Delivery() {
	case DeliveryDraftedPending, DeliveryBlocked, DeliveryFailedTransient:
		return true
	default:
		return false
	}
}
