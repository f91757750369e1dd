package api

import (
	"errors"
	"net/http"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/storage"
)

// StartRequest is the body of POST /api/v1/runs.
type StartRequest struct {
	RawInput       string   `json:"raw_input"`
	CandidateItems []string `json:"candidate_items,omitempty"`
	TargetAddress  string   `json:"target_address,omitempty"`
}

// LegacyStartRequest is the body of POST /api/v1/recruitment/execute.
type LegacyStartRequest struct {
	UserQuery string `json:"user_query"`
}

// ResumeRequest is the body of the resume and approve endpoints.
type ResumeRequest struct {
	State *domain.State `json:"state"`
}

// RunResponse is returned by every run endpoint.
type RunResponse struct {
	RunID   string              `json:"run_id"`
	Status  domain.RunStatus    `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	Steps   int                 `json:"steps"`
	Summary domain.Summary      `json:"summary"`
	State   domain.State        `json:"state"`
	Trace   []domain.TraceEntry `json:"trace,omitempty"`
}

// TraceResponse is returned by the journal endpoint.
type TraceResponse struct {
	RunID   string              `json:"run_id"`
	Entries []domain.TraceEntry `json:"entries"`
}

func newRunResponse(result domain.RunResult) RunResponse {
	return RunResponse{
		RunID:   result.State.RunID,
		Status:  result.Status,
		Reason:  result.Reason,
		Steps:   result.Steps,
		Summary: domain.Summarize(result.State),
		State:   result.State,
		Trace:   result.Trace,
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.invalid(w, r, err.Error())
		return
	}
	s.start(w, r, engine.StartRequest{
		RawInput:       req.RawInput,
		CandidateItems: req.CandidateItems,
		TargetAddress:  req.TargetAddress,
	})
}

func (s *Server) handleLegacyExecute(w http.ResponseWriter, r *http.Request) {
	var req LegacyStartRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.invalid(w, r, err.Error())
		return
	}
	s.start(w, r, engine.StartRequest{RawInput: req.UserQuery})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request, req engine.StartRequest) {
	if !s.admit(w, r) {
		return
	}
	result, err := s.service.Start(r.Context(), req)
	if err != nil {
		s.writeRunError(w, r, result, err)
		return
	}
	s.metrics.RecordRun(result)
	s.writeJSON(w, http.StatusOK, newRunResponse(result))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.invalid(w, r, err.Error())
		return
	}
	if req.State == nil {
		s.invalid(w, r, "state is required")
		return
	}
	if !s.admit(w, r) {
		return
	}

	result, err := s.service.Resume(r.Context(), *req.State)
	if err != nil {
		s.writeRunError(w, r, result, err)
		return
	}
	s.metrics.RecordRun(result)
	s.writeJSON(w, http.StatusOK, newRunResponse(result))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if s.journal == nil {
		s.writeError(w, r, http.StatusNotFound, domain.ErrorResponse{
			Code:    "NOT_FOUND",
			Message: "decision journal is disabled",
		})
		return
	}

	entries, err := s.journal.Entries(r.Context(), runID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, domain.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case err != nil:
		s.logger.Error("journal lookup failed", "run_id", runID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, domain.ErrorResponse{Code: domain.CodeInternal, Message: "journal lookup failed"})
	default:
		s.writeJSON(w, http.StatusOK, TraceResponse{RunID: runID, Entries: entries})
	}
}

func (s *Server) invalid(w http.ResponseWriter, r *http.Request, msg string) {
	s.writeError(w, r, http.StatusBadRequest, domain.ErrorResponse{
		Code:    domain.CodeInvalidRequest,
		Message: msg,
	})
}
