package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/polisai/polis-recruit/internal/governance"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/logging"
	"github.com/polisai/polis-recruit/pkg/mail"
	"github.com/polisai/polis-recruit/pkg/prompts"
	"github.com/polisai/polis-recruit/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	startReq  engine.StartRequest
	resumed   domain.State
	result    domain.RunResult
	err       error
	callCount int
}

func (s *stubService) Start(_ context.Context, req engine.StartRequest) (domain.RunResult, error) {
	s.callCount++
	s.startReq = req
	return s.result, s.err
}

func (s *stubService) Resume(_ context.Context, st domain.State) (domain.RunResult, error) {
	s.callCount++
	s.resumed = st
	return s.result, s.err
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func suspendedResult() domain.RunResult {
	st := domain.NewState("run-7", "need a Go engineer")
	st.PrimaryContext = "Go engineer"
	st.CandidateItems = []string{"Alice"}
	st.Evaluations = []domain.Evaluation{{Name: "Alice", Score: 90, IsMatch: true}}
	st.QualifiedSubset = st.Evaluations
	st.DraftArtifact = "Dear team"
	st.TargetAddress = "hr@example.com"
	st.DeliveryStatus = domain.DeliveryDraftedPending
	return domain.RunResult{State: st, Status: domain.RunSuspended, Reason: domain.ReasonAwaitingApproval, Steps: 4}
}

func TestStartEndpoint(t *testing.T) {
	svc := &stubService{result: suspendedResult()}
	h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

	rec := post(t, h, "/api/v1/runs", `{"raw_input":"need a Go engineer","candidate_items":["Alice"],"target_address":"hr@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decode[RunResponse](t, rec)
	assert.Equal(t, "run-7", resp.RunID)
	assert.Equal(t, domain.RunSuspended, resp.Status)
	assert.Equal(t, 1, resp.Summary.MatchedCount)
	assert.True(t, resp.Summary.AwaitingApproval)
	assert.Equal(t, []string{"Alice"}, svc.startReq.CandidateItems)
	assert.Equal(t, "hr@example.com", svc.startReq.TargetAddress)
}

func TestLegacyExecuteEndpoint(t *testing.T) {
	svc := &stubService{result: suspendedResult()}
	h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

	rec := post(t, h, "/api/v1/recruitment/execute", `{"user_query":"hire"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hire", svc.startReq.RawInput)
}

func TestResumeEndpoints(t *testing.T) {
	for _, path := range []string{"/api/v1/runs/resume", "/api/v1/recruitment/approve"} {
		t.Run(path, func(t *testing.T) {
			svc := &stubService{result: suspendedResult()}
			h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

			parked := suspendedResult().State
			body, err := json.Marshal(ResumeRequest{State: &parked})
			require.NoError(t, err)
			rec := post(t, h, path, string(body))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "run-7", svc.resumed.RunID)
			assert.Equal(t, "Dear team", svc.resumed.DraftArtifact)
		})
	}
}

func TestInvalidRequests(t *testing.T) {
	svc := &stubService{}
	h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

	cases := map[string]struct{ path, body string }{
		"malformed json": {"/api/v1/runs", `{"raw_input":`},
		"missing state":  {"/api/v1/runs/resume", `{}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := post(t, h, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, domain.CodeInvalidRequest, decode[domain.ErrorResponse](t, rec).Code)
		})
	}
	assert.Zero(t, svc.callCount)

	svc.err = &domain.DomainError{Err: domain.ErrEmptyInput, Code: domain.CodeInvalidRequest}
	rec := post(t, h, "/api/v1/runs", `{"raw_input":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[domain.ErrorResponse](t, rec).Message, "raw input is empty")
}

func TestEngineFaultCarriesState(t *testing.T) {
	result := suspendedResult()
	result.Status = domain.RunAborted
	svc := &stubService{result: result, err: fmt.Errorf("run run-7: %w", domain.ErrStepBoundExceeded)}
	h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

	rec := post(t, h, "/api/v1/runs", `{"raw_input":"hire"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[domain.ErrorResponse](t, rec)
	assert.Equal(t, domain.CodeEngineFault, resp.Code)
	require.NotNil(t, resp.State)
	assert.Equal(t, "run-7", resp.State.RunID)
}

func TestUnexpectedErrorIsInternal(t *testing.T) {
	svc := &stubService{err: errors.New("boom")}
	h := NewServer(Config{Service: svc, Logger: logging.Discard()}).Handler()

	rec := post(t, h, "/api/v1/runs", `{"raw_input":"hire"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[domain.ErrorResponse](t, rec)
	assert.Equal(t, domain.CodeInternal, resp.Code)
	assert.Nil(t, resp.State)
}

func TestRateLimitedRuns(t *testing.T) {
	svc := &stubService{result: suspendedResult()}
	limiter := governance.NewRateLimiter(map[string]governance.RateLimiterConfig{
		runRoute: {RequestsPerSecond: 0.001, BurstSize: 1},
	})
	h := NewServer(Config{Service: svc, Limiter: limiter, Logger: logging.Discard()}).Handler()

	first := post(t, h, "/api/v1/runs", `{"raw_input":"hire"}`)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := post(t, h, "/api/v1/runs", `{"raw_input":"hire"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Equal(t, 1, svc.callCount)
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := NewMetrics()
	svc := &stubService{result: suspendedResult()}
	h := NewServer(Config{Service: svc, Metrics: metrics, Logger: logging.Discard()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	post(t, h, "/api/v1/runs", `{"raw_input":"hire"}`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `recruit_runs_total{reason="awaiting_approval",status="suspended"} 1`)
	assert.Contains(t, body, `recruit_http_requests_total{endpoint="start",method="POST",status_code="200"} 1`)
}

func TestTraceEndpoint(t *testing.T) {
	journal := storage.NewMemoryJournal()
	require.NoError(t, journal.Record(context.Background(), "run-7", domain.TraceEntry{
		Step:     1,
		Decision: domain.Decision{Destination: domain.DestAnalyze, Rule: 1},
	}))
	h := NewServer(Config{Service: &stubService{}, Journal: journal, Logger: logging.Discard()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-7/trace", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TraceResponse](t, rec)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, domain.DestAnalyze, resp.Entries[0].Decision.Destination)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/absent/trace", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type recordingSender struct{ sent []mail.Message }

func (s *recordingSender) Send(_ context.Context, msg mail.Message) mail.Outcome {
	s.sent = append(s.sent, msg)
	return mail.Delivered()
}

func TestStartAndApproveAgainstEngine(t *testing.T) {
	replies := map[string]string{
		prompts.TemplateAnalyze:        `{"job_description":"Go engineer","generation_prompt":"one profile"}`,
		prompts.TemplateGenerate:       `["Alice: 10 years of Go"]`,
		prompts.TemplateScreen:         `[{"name":"Alice","score":92,"reasoning":"excellent"}]`,
		prompts.TemplateExtractContact: "jobs@example.com",
		prompts.TemplateDraft:          "Dear Hiring Team, meet Alice.",
	}
	completer := llm.CompleterFunc(func(_ context.Context, template string, _ map[string]any) (string, error) {
		return replies[template], nil
	})
	sender := &recordingSender{}
	journal := storage.NewMemoryJournal()

	svc, err := engine.NewService(engine.DefaultSettings(), engine.Dependencies{
		Completer: completer,
		Sender:    sender,
		Recorder:  journal,
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(Config{Service: svc, Journal: journal, Logger: logging.Discard()}).Handler())
	defer srv.Close()
	client := srv.Client()

	resp, err := client.Post(srv.URL+"/api/v1/recruitment/execute", "application/json", strings.NewReader(`{"user_query":"Go engineer, one profile"}`))
	require.NoError(t, err)
	started := readRun(t, resp)
	assert.Equal(t, domain.RunSuspended, started.Status)
	assert.True(t, started.Summary.AwaitingApproval)
	assert.Empty(t, sender.sent)

	body, err := json.Marshal(ResumeRequest{State: &started.State})
	require.NoError(t, err)
	resp, err = client.Post(srv.URL+"/api/v1/recruitment/approve", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	approved := readRun(t, resp)
	assert.Equal(t, domain.RunCompleted, approved.Status)
	assert.Equal(t, domain.DeliveryDelivered, approved.Summary.DeliveryStatus)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "jobs@example.com", sender.sent[0].To)

	resp, err = client.Get(srv.URL + "/api/v1/runs/" + started.RunID + "/trace")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var tr TraceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	assert.Len(t, tr.Entries, len(started.Trace)+len(approved.Trace))
}

func readRun(t *testing.T, resp *http.Response) RunResponse {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out RunResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}
