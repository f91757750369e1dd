package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/mail"
)

// DefaultSubject is used when the draft carries no subject line.
const DefaultSubject = "Qualified Technical Matches - Recruitment Analysis"

// TransmitConfig configures the Transmit unit.
type TransmitConfig struct {
	Sender         mail.Sender
	DefaultSubject string
	Logger         *slog.Logger
}

// TransmitHandler is the only unit with an external side effect. It sends the
// drafted message once, and only when the caller authorized it.
type TransmitHandler struct {
	sender  mail.Sender
	subject string
	logger  *slog.Logger
}

// NewTransmitHandler creates the unit.
func NewTransmitHandler(cfg TransmitConfig) *TransmitHandler {
	subject := strings.TrimSpace(cfg.DefaultSubject)
	if subject == "" {
		subject = DefaultSubject
	}
	return &TransmitHandler{
		sender:  cfg.Sender,
		subject: subject,
		logger:  unitLogger(cfg.Logger, domain.DestTransmit),
	}
}

func (h *TransmitHandler) Execute(ctx context.Context, state domain.State) runtime.UnitResult {
	if !state.Authorized {
		h.logger.Warn("transmission blocked, not authorized", "run_id", state.RunID)
		return runtime.Blocked(domain.Update{
			DeliveryStatus: domain.Ptr(domain.DeliveryBlocked),
			DeliveryDetail: domain.Ptr("transmission requires authorization"),
		}, "not authorized")
	}

	// past the gate every path clears the authorization
	if state.Delivery() == domain.DeliveryDelivered {
		return runtime.Blocked(domain.Update{
			Authorized:     domain.Ptr(false),
			DeliveryDetail: domain.Ptr("already delivered, not sent again"),
		}, "already delivered")
	}

	if detail := validateForTransmit(state); detail != "" {
		h.logger.Warn("transmission rejected", "run_id", state.RunID, "reason", detail)
		return runtime.Blocked(domain.Update{
			Authorized:     domain.Ptr(false),
			DeliveryStatus: domain.Ptr(domain.DeliveryFailedValidation),
			DeliveryDetail: domain.Ptr(detail),
		}, detail)
	}

	if h.sender == nil {
		return runtime.Failure(domain.Update{
			Authorized:     domain.Ptr(false),
			DeliveryStatus: domain.Ptr(domain.DeliveryFailedTransient),
			DeliveryDetail: domain.Ptr("no transmission capability configured"),
		}, "no sender")
	}

	subject, body, ok := mail.SplitSubject(state.DraftArtifact)
	if !ok {
		subject = h.subject
	}
	outcome := h.sender.Send(ctx, mail.Message{
		To:      strings.TrimSpace(state.TargetAddress),
		Subject: subject,
		Body:    body,
	})

	update := domain.Update{Authorized: domain.Ptr(false)}
	switch {
	case outcome.Status == mail.StatusDelivered:
		update.DeliveryStatus = domain.Ptr(domain.DeliveryDelivered)
		update.DeliveryDetail = domain.Ptr("")
		h.logger.Info("outreach delivered", "run_id", state.RunID)
		return runtime.Success(update)
	case outcome.Status == mail.StatusSimulated:
		update.DeliveryStatus = domain.Ptr(domain.DeliverySkipped)
		update.DeliveryDetail = domain.Ptr("simulated: " + outcome.Reason)
		return runtime.Degraded(update, "simulated delivery")
	case outcome.Permanent:
		update.DeliveryStatus = domain.Ptr(domain.DeliveryFailedValidation)
		update.DeliveryDetail = domain.Ptr(outcome.Reason)
		return runtime.Failure(update, outcome.Reason)
	default:
		update.DeliveryStatus = domain.Ptr(domain.DeliveryFailedTransient)
		update.DeliveryDetail = domain.Ptr(outcome.Reason)
		return runtime.Failure(update, outcome.Reason)
	}
}

func validateForTransmit(state domain.State) string {
	if err := mail.ValidateAddress(state.TargetAddress); err != nil {
		return err.Error()
	}
	if !state.HasDraft() {
		return "draft is empty"
	}
	if strings.TrimSpace(state.DraftArtifact) == domain.DraftFailedSentinel {
		return "draft is the drafting failure placeholder"
	}
	return ""
}
