package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine/handlers"
	"github.com/polisai/polis-recruit/pkg/engine/runtime"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/mail"
)

// Settings are the reloadable knobs of the engine.
type Settings struct {
	MaxSteps            int
	MatchThreshold      int
	MaxCandidates       int
	AnalyzeEnabled      bool
	DefaultInstructions string
	Signature           string
	Subject             string
	Disabled            []domain.Destination
	// Fallback decides states the routing chain does not cover. Nil finishes.
	Fallback FallbackSource
}

// DefaultSettings mirrors the shipped configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxSteps:       DefaultMaxSteps,
		MatchThreshold: handlers.DefaultMatchThreshold,
		MaxCandidates:  handlers.DefaultMaxCandidates,
		AnalyzeEnabled: true,
	}
}

// Dependencies are the capability ports and sinks shared by every run.
type Dependencies struct {
	Completer llm.Completer
	Sender    mail.Sender
	Recorder  Recorder
	Logger    *slog.Logger
	// NewRunID generates run identifiers. Defaults to random UUIDs.
	NewRunID func() string
}

// StartRequest begins a new run.
type StartRequest struct {
	RawInput string
	// CandidateItems, when present, skip the Generate unit.
	CandidateItems []string
	// TargetAddress, when present, takes precedence over the extracted contact.
	TargetAddress string
}

// Service is the engine entry point used by the HTTP front end and the CLI.
type Service struct {
	deps     Dependencies
	executor atomic.Pointer[Executor]
	logger   *slog.Logger
}

// NewService builds the executor for settings.
func NewService(settings Settings, deps Dependencies) (*Service, error) {
	if deps.Completer == nil {
		return nil, fmt.Errorf("%w: completer is required", domain.ErrConfigInvalid)
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("%w: sender is required", domain.ErrConfigInvalid)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}

	svc := &Service{deps: deps, logger: deps.Logger}
	if err := svc.Reload(settings); err != nil {
		return nil, err
	}
	return svc, nil
}

// Reload swaps in an executor built from settings. Runs already in flight keep
// the executor they started with.
func (s *Service) Reload(settings Settings) error {
	exec, err := s.build(settings)
	if err != nil {
		return err
	}
	s.executor.Store(exec)
	s.logger.Info("engine settings applied",
		"max_steps", exec.MaxSteps(),
		"match_threshold", settings.MatchThreshold,
		"analyze_enabled", settings.AnalyzeEnabled,
		"disabled", settings.Disabled,
	)
	return nil
}

func (s *Service) build(settings Settings) (*Executor, error) {
	disabled := make(map[domain.Destination]bool, len(settings.Disabled))
	for _, dest := range settings.Disabled {
		if dest == domain.DestAnalyze || dest == domain.DestFinish {
			return nil, fmt.Errorf("%w: %s cannot be disabled", domain.ErrConfigInvalid, dest)
		}
		disabled[dest] = true
	}

	logger := s.deps.Logger
	units := map[domain.Destination]runtime.UnitHandler{
		domain.DestAnalyze: handlers.NewAnalyzeHandler(handlers.AnalyzeConfig{
			Completer:           s.deps.Completer,
			Disabled:            !settings.AnalyzeEnabled,
			DefaultInstructions: settings.DefaultInstructions,
			Logger:              logger,
		}),
		domain.DestGenerate: handlers.NewGenerateHandler(handlers.GenerateConfig{
			Completer:     s.deps.Completer,
			MaxCandidates: settings.MaxCandidates,
			Logger:        logger,
		}),
		domain.DestEvaluate: handlers.NewEvaluateHandler(handlers.EvaluateConfig{
			Completer:      s.deps.Completer,
			MatchThreshold: settings.MatchThreshold,
			Logger:         logger,
		}),
		domain.DestDraft: handlers.NewDraftHandler(handlers.DraftConfig{
			Completer: s.deps.Completer,
			Signature: settings.Signature,
			Logger:    logger,
		}),
		domain.DestTransmit: handlers.NewTransmitHandler(handlers.TransmitConfig{
			Sender:         s.deps.Sender,
			DefaultSubject: settings.Subject,
			Logger:         logger,
		}),
	}

	return NewExecutor(ExecutorConfig{
		Router: NewRouter(RouterConfig{
			Fallback: settings.Fallback,
			Disabled: disabled,
			Logger:   logger,
		}),
		Units:    units,
		MaxSteps: settings.MaxSteps,
		Recorder: s.deps.Recorder,
		Logger:   logger,
	})
}

// Start runs a fresh state built from req until it finishes or suspends.
func (s *Service) Start(ctx context.Context, req StartRequest) (domain.RunResult, error) {
	raw := strings.TrimSpace(req.RawInput)
	if raw == "" {
		return domain.RunResult{}, &domain.DomainError{
			Err:  domain.ErrEmptyInput,
			Code: domain.CodeInvalidRequest,
		}
	}

	state := domain.NewState(s.deps.NewRunID(), raw)
	for _, item := range req.CandidateItems {
		if item = strings.TrimSpace(item); item != "" {
			state.CandidateItems = append(state.CandidateItems, item)
		}
	}
	state.TargetAddress = strings.TrimSpace(req.TargetAddress)

	s.logger.Info("starting run",
		"run_id", state.RunID,
		"supplied_candidates", len(state.CandidateItems),
		"supplied_target", state.TargetAddress != "",
	)
	return s.executor.Load().Run(ctx, state)
}

// Resume continues a previously returned state with the caller's
// authorization for its draft. Resuming a finished run is safe: completed states route
// straight to finish.
func (s *Service) Resume(ctx context.Context, state domain.State) (domain.RunResult, error) {
	if strings.TrimSpace(state.RawInput) == "" {
		return domain.RunResult{}, &domain.DomainError{
			Err:     domain.ErrInvalidState,
			Code:    domain.CodeInvalidRequest,
			Message: "state.raw_input is required",
		}
	}
	state = state.Clone()
	if state.RunID == "" {
		state.RunID = s.deps.NewRunID()
	}
	if !state.DeliveryStatus.Valid() {
		return domain.RunResult{}, &domain.DomainError{
			Err:     domain.ErrInvalidState,
			Code:    domain.CodeInvalidRequest,
			Message: fmt.Sprintf("unknown delivery_status %q", state.DeliveryStatus),
		}
	}
	// authorization only attaches to an existing draft; a state cut short
	// before drafting resumes unauthorized and parks after Draft.
	state.Authorized = state.HasDraft()

	s.logger.Info("resuming run",
		"run_id", state.RunID,
		"delivery_status", state.Delivery(),
		"has_draft", state.HasDraft(),
	)
	return s.executor.Load().Run(ctx, state)
}

// ErrorCode maps an engine error onto the API error codes.
func ErrorCode(err error) string {
	var domainErr *domain.DomainError
	switch {
	case errors.As(err, &domainErr) && domainErr.Code != "":
		return domainErr.Code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.CodeCancelled
	case IsEngineFault(err):
		return domain.CodeEngineFault
	default:
		return domain.CodeInternal
	}
}
