package domain

// Update is a partial State produced by a work unit. Nil fields are left untouched
// on merge. RawInput and RunID have no counterpart: they are fixed for the run.
type Update struct {
	PrimaryContext         *string
	GenerationInstructions *string
	CandidateItems         []string
	Evaluations            []Evaluation
	QualifiedSubset        []Evaluation
	TargetAddress          *string
	DraftArtifact          *string
	DeliveryStatus         *DeliveryStatus
	DeliveryDetail         *string
	Authorized             *bool
}

// Ptr returns a pointer to v. Handy for building updates.
func Ptr[T any](v T) *T {
	return &v
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.PrimaryContext == nil &&
		u.GenerationInstructions == nil &&
		u.CandidateItems == nil &&
		u.Evaluations == nil &&
		u.QualifiedSubset == nil &&
		u.TargetAddress == nil &&
		u.DraftArtifact == nil &&
		u.DeliveryStatus == nil &&
		u.DeliveryDetail == nil &&
		u.Authorized == nil
}

// Fields lists the names of the fields carried by the update, in State order.
func (u Update) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(u.PrimaryContext != nil, "primary_context")
	add(u.GenerationInstructions != nil, "generation_instructions")
	add(u.CandidateItems != nil, "candidate_items")
	add(u.Evaluations != nil, "evaluations")
	add(u.QualifiedSubset != nil, "qualified_subset")
	add(u.TargetAddress != nil, "target_address")
	add(u.DraftArtifact != nil, "draft_artifact")
	add(u.DeliveryStatus != nil, "delivery_status")
	add(u.DeliveryDetail != nil, "delivery_detail")
	add(u.Authorized != nil, "authorized")
	return fields
}

// Apply merges u into a copy of s by field-name overwrite and returns the copy.
func (s State) Apply(u Update) State {
	out := s.Clone()
	if u.PrimaryContext != nil {
		out.PrimaryContext = *u.PrimaryContext
	}
	if u.GenerationInstructions != nil {
		out.GenerationInstructions = *u.GenerationInstructions
	}
	if u.CandidateItems != nil {
		out.CandidateItems = cloneSlice(u.CandidateItems)
	}
	if u.Evaluations != nil {
		out.Evaluations = cloneSlice(u.Evaluations)
	}
	if u.QualifiedSubset != nil {
		out.QualifiedSubset = cloneSlice(u.QualifiedSubset)
	}
	if u.TargetAddress != nil {
		out.TargetAddress = *u.TargetAddress
	}
	if u.DraftArtifact != nil {
		out.DraftArtifact = *u.DraftArtifact
	}
	if u.DeliveryStatus != nil {
		out.DeliveryStatus = *u.DeliveryStatus
	}
	if u.DeliveryDetail != nil {
		out.DeliveryDetail = *u.DeliveryDetail
	}
	if u.Authorized != nil {
		out.Authorized = *u.Authorized
	}
	return out
}
