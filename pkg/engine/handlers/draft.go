package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/mail"
	"github.com/polisai/polis-recruit/pkg/prompts"
)

const (
	// DefaultSignature closes every drafted message.
	DefaultSignature = "Recruitment Team"
	fallbackContact  = "Hiring Team"
)

// DraftConfig configures the Draft unit.
type DraftConfig struct {
	Completer llm.Completer
	Signature string
	Logger    *slog.Logger
}

// DraftHandler extracts the recipient address and writes the outreach message
// for the qualified candidates.
type DraftHandler struct {
	completer llm.Completer
	signature string
	logger    *slog.Logger
}

// NewDraftHandler creates the unit.
func NewDraftHandler(cfg DraftConfig) *DraftHandler {
	signature := strings.TrimSpace(cfg.Signature)
	if signature == "" {
		signature = DefaultSignature
	}
	return &DraftHandler{
		completer: cfg.Completer,
		signature: signature,
		logger:    unitLogger(cfg.Logger, domain.DestDraft),
	}
}

func (h *DraftHandler) Execute(ctx context.Context, state domain.State) runtime.UnitResult {
	if len(state.QualifiedSubset) == 0 {
		return runtime.Blocked(domain.Update{
			DeliveryStatus: domain.Ptr(domain.DeliverySkipped),
			DeliveryDetail: domain.Ptr("no qualified candidates to present"),
		}, "nothing qualified")
	}

	address := strings.TrimSpace(state.TargetAddress)
	if address == "" {
		address = h.extractAddress(ctx, state)
	}

	contact := address
	if contact == "" {
		contact = fallbackContact
	}

	failed := func(detail string) runtime.UnitResult {
		h.logger.Warn("drafting failed", "run_id", state.RunID, "error", detail)
		return runtime.Degraded(domain.Update{
			TargetAddress:  domain.Ptr(address),
			DraftArtifact:  domain.Ptr(domain.DraftFailedSentinel),
			DeliveryStatus: domain.Ptr(domain.DeliveryFailedValidation),
			DeliveryDetail: domain.Ptr("drafting failed: " + detail),
		}, detail)
	}
	if h.completer == nil {
		return failed("no completion capability")
	}

	draft, err := h.completer.Complete(ctx, prompts.TemplateDraft, map[string]any{
		"contact":             contact,
		"job_description":     state.PrimaryContext,
		"candidate_summaries": summarize(state.QualifiedSubset),
		"signature":           h.signature,
	})
	if err != nil {
		return failed(err.Error())
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return failed("empty draft")
	}

	h.logger.Info("outreach drafted",
		"run_id", state.RunID,
		"candidates", len(state.QualifiedSubset),
		"has_address", address != "",
	)
	return runtime.Success(domain.Update{
		TargetAddress:  domain.Ptr(address),
		DraftArtifact:  domain.Ptr(draft),
		DeliveryStatus: domain.Ptr(domain.DeliveryDraftedPending),
		DeliveryDetail: domain.Ptr(""),
	})
}

// extractAddress asks the capability for the contact address. Any failure yields
// an empty address; the caller can fill it in before resuming.
func (h *DraftHandler) extractAddress(ctx context.Context, state domain.State) string {
	if h.completer == nil {
		return ""
	}
	reply, err := h.completer.Complete(ctx, prompts.TemplateExtractContact, map[string]any{
		"job_description": firstNonEmpty(state.PrimaryContext, state.RawInput),
	})
	if err != nil {
		h.logger.Warn("address extraction failed", "run_id", state.RunID, "error", err)
		return ""
	}

	candidate := strings.TrimSpace(reply)
	candidate = strings.Trim(candidate, "\"'`<>.,;")
	candidate = strings.TrimPrefix(candidate, "mailto:")
	if !strings.Contains(candidate, "@") || mail.ValidateAddress(candidate) != nil {
		return ""
	}
	return candidate
}

func summarize(qualified []domain.Evaluation) string {
	lines := make([]string, 0, len(qualified))
	for _, q := range qualified {
		lines = append(lines, fmt.Sprintf("- %s (Final Score: %d/100): %s", q.Name, q.Score, q.Reasoning))
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
