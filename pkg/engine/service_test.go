package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/mail"
	"github.com/polisai/polis-recruit/pkg/prompts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type reply struct {
	text string
	err  error
}

type fakeCompleter struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   map[string]int
	onCall  func(template string)
}

func newFakeCompleter(replies map[string]reply) *fakeCompleter {
	return &fakeCompleter{replies: replies, calls: map[string]int{}}
}

func (f *fakeCompleter) Complete(_ context.Context, template string, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[template]++
	if f.onCall != nil {
		f.onCall(template)
	}
	r, ok := f.replies[template]
	if !ok {
		return "", errors.New("unexpected template " + template)
	}
	return r.text, r.err
}

func (f *fakeCompleter) count(template string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[template]
}

func (f *fakeCompleter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeSender struct {
	mu      sync.Mutex
	outcome mail.Outcome
	sent    []mail.Message
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) mail.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.outcome
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries map[string][]domain.TraceEntry
}

func (r *memoryRecorder) Record(_ context.Context, runID string, entry domain.TraceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[string][]domain.TraceEntry{}
	}
	r.entries[runID] = append(r.entries[runID], entry)
	return nil
}

func happyReplies() map[string]reply {
	return map[string]reply{
		prompts.TemplateAnalyze:        {text: `{"job_description":"Senior Go engineer. Apply to hiring@example.com","generation_prompt":"2 profiles"}`},
		prompts.TemplateGenerate:       {text: `["Alice: 8 years of Go", "Bob: 2 years of PHP"]`},
		prompts.TemplateScreen:         {text: `[{"name":"Alice","score":88,"is_match":true,"reasoning":"strong Go"},{"name":"Bob","score":30,"is_match":false,"reasoning":"no Go"}]`},
		prompts.TemplateExtractContact: {text: "hiring@example.com"},
		prompts.TemplateDraft:          {text: "Subject: One strong match\n\nDear Hiring Team,\nAlice is a great fit."},
	}
}

func newTestService(t *testing.T, settings Settings, c *fakeCompleter, s *fakeSender, rec Recorder) *Service {
	t.Helper()
	ids := 0
	svc, err := NewService(settings, Dependencies{
		Completer: c,
		Sender:    s,
		Recorder:  rec,
		Logger:    quietLogger(),
		NewRunID: func() string {
			ids++
			return "run-" + string(rune('0'+ids))
		},
	})
	require.NoError(t, err)
	return svc
}

func destinations(trace []domain.TraceEntry) []domain.Destination {
	out := make([]domain.Destination, 0, len(trace))
	for _, e := range trace {
		out = append(out, e.Decision.Destination)
	}
	return out
}

func TestStartSuspendsForApprovalThenResumeDelivers(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	sender := &fakeSender{outcome: mail.Delivered()}
	rec := &memoryRecorder{}
	svc := newTestService(t, DefaultSettings(), c, sender, rec)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "  Need a senior Go engineer  "})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuspended, started.Status)
	assert.Equal(t, domain.ReasonAwaitingApproval, started.Reason)
	assert.Equal(t, 4, started.Steps)
	assert.Empty(t, sender.sent)

	want := []domain.Destination{domain.DestAnalyze, domain.DestGenerate, domain.DestEvaluate, domain.DestDraft, domain.DestFinish}
	if diff := cmp.Diff(want, destinations(started.Trace)); diff != "" {
		t.Fatalf("unexpected route (-want +got):\n%s", diff)
	}

	st := started.State
	assert.Equal(t, "run-1", st.RunID)
	assert.Equal(t, "Need a senior Go engineer", st.RawInput)
	assert.Len(t, st.Evaluations, 2)
	require.Len(t, st.QualifiedSubset, 1)
	assert.Equal(t, "Alice", st.QualifiedSubset[0].Name)
	assert.Equal(t, "hiring@example.com", st.TargetAddress)
	assert.Equal(t, domain.DeliveryDraftedPending, st.DeliveryStatus)
	assert.False(t, st.Authorized)
	assert.True(t, domain.Summarize(st).AwaitingApproval)

	resumed, err := svc.Resume(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, resumed.Status)
	assert.Equal(t, domain.ReasonDelivered, resumed.Reason)
	assert.Equal(t, 1, resumed.Steps)
	assert.Equal(t, domain.DeliveryDelivered, resumed.State.DeliveryStatus)
	assert.False(t, resumed.State.Authorized)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "hiring@example.com", sender.sent[0].To)
	assert.Equal(t, "One strong match", sender.sent[0].Subject)
	assert.NotContains(t, sender.sent[0].Body, "Subject:")

	// resuming a delivered run never sends twice
	again, err := svc.Resume(ctx, resumed.State)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, again.Status)
	assert.Equal(t, domain.DeliveryDelivered, again.State.DeliveryStatus)
	assert.Len(t, sender.sent, 1)

	assert.Len(t, rec.entries["run-1"], len(started.Trace)+len(resumed.Trace)+len(again.Trace))
	assert.Equal(t, 1, c.count(prompts.TemplateDraft))
}

func TestStartWithNoQualifiedCandidates(t *testing.T) {
	replies := happyReplies()
	replies[prompts.TemplateScreen] = reply{text: `{"candidates":[{"name":"Alice","score":40},{"name":"Bob","score":10}]}`}
	c := newFakeCompleter(replies)
	sender := &fakeSender{outcome: mail.Delivered()}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)

	res, err := svc.Start(context.Background(), StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonNoQualified, res.Reason)
	assert.Equal(t, 3, res.Steps)
	assert.Empty(t, res.State.QualifiedSubset)
	assert.Zero(t, c.count(prompts.TemplateDraft))

	// authorizing changes nothing when nothing qualified
	resumed, err := svc.Resume(context.Background(), res.State)
	require.NoError(t, err)
	assert.Equal(t, 0, resumed.Steps)
	assert.Empty(t, sender.sent)
}

func TestResumeWithSimulatedDelivery(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	sender := &fakeSender{outcome: mail.Simulated("SMTP_SERVER not set")}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	res, err := svc.Resume(ctx, started.State)
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, res.Status)
	assert.Equal(t, domain.ReasonSimulated, res.Reason)
	assert.Equal(t, domain.DeliverySkipped, res.State.DeliveryStatus)
	assert.Contains(t, res.State.DeliveryDetail, "simulated")
	assert.False(t, res.State.Authorized)
}

func TestResumeAfterPermanentFailureStops(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	sender := &fakeSender{outcome: mail.Failed("550 mailbox unavailable", true)}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	res, err := svc.Resume(ctx, started.State)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonDeliveryFailed, res.Reason)
	assert.Equal(t, domain.DeliveryFailedValidation, res.State.DeliveryStatus)
	assert.False(t, res.State.Authorized)
	assert.Len(t, sender.sent, 1)
}

func TestResumeAfterTransientFailureCanRetry(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	sender := &fakeSender{outcome: mail.Failed("connection refused", false)}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	failed, err := svc.Resume(ctx, started.State)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonAwaitingApproval, failed.Reason)
	assert.Equal(t, domain.DeliveryFailedTransient, failed.State.DeliveryStatus)

	sender.outcome = mail.Delivered()
	retried, err := svc.Resume(ctx, failed.State)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDelivered, retried.Reason)
	assert.Len(t, sender.sent, 2)
}

func TestDraftFailureIsNeverTransmitted(t *testing.T) {
	replies := happyReplies()
	replies[prompts.TemplateDraft] = reply{err: errors.New("model overloaded")}
	c := newFakeCompleter(replies)
	sender := &fakeSender{outcome: mail.Delivered()}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonDeliveryFailed, started.Reason)
	assert.Equal(t, domain.DraftFailedSentinel, started.State.DraftArtifact)

	res, err := svc.Resume(ctx, started.State)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.Equal(t, domain.DeliveryFailedValidation, res.State.DeliveryStatus)
	assert.False(t, res.State.Authorized)
}

func TestStartWithSuppliedCandidatesAndTarget(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	svc := newTestService(t, DefaultSettings(), c, &fakeSender{outcome: mail.Delivered()}, nil)

	res, err := svc.Start(context.Background(), StartRequest{
		RawInput:       "hire",
		CandidateItems: []string{"Alice: Go", " ", "Bob: PHP"},
		TargetAddress:  "lead@example.org",
	})
	require.NoError(t, err)
	assert.Zero(t, c.count(prompts.TemplateGenerate))
	assert.Zero(t, c.count(prompts.TemplateExtractContact))
	assert.Equal(t, []string{"Alice: Go", "Bob: PHP"}, res.State.CandidateItems)
	assert.Equal(t, "lead@example.org", res.State.TargetAddress)
}

func TestGenerateFailureStalls(t *testing.T) {
	replies := happyReplies()
	replies[prompts.TemplateGenerate] = reply{err: errors.New("rate limited")}
	svc := newTestService(t, DefaultSettings(), newFakeCompleter(replies), &fakeSender{}, nil)

	res, err := svc.Start(context.Background(), StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonStalled, res.Reason)
	assert.Equal(t, 2, res.Steps)
}

func TestStepBoundAborts(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxSteps = 2
	svc := newTestService(t, settings, newFakeCompleter(happyReplies()), &fakeSender{}, nil)

	res, err := svc.Start(context.Background(), StartRequest{RawInput: "hire"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStepBoundExceeded)
	assert.True(t, IsEngineFault(err))
	assert.Equal(t, domain.CodeEngineFault, ErrorCode(err))
	assert.Equal(t, domain.RunAborted, res.Status)
	assert.Equal(t, 2, res.Steps)
	assert.NotEmpty(t, res.State.CandidateItems)
}

func TestCancelledContextSuspends(t *testing.T) {
	svc := newTestService(t, DefaultSettings(), newFakeCompleter(happyReplies()), &fakeSender{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.CodeCancelled, ErrorCode(err))
	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonCancelled, res.Reason)
	assert.Zero(t, res.Steps)
}

func TestInvalidRequests(t *testing.T) {
	svc := newTestService(t, DefaultSettings(), newFakeCompleter(nil), &fakeSender{}, nil)
	ctx := context.Background()

	_, err := svc.Start(ctx, StartRequest{RawInput: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, domain.CodeInvalidRequest, ErrorCode(err))

	_, err = svc.Resume(ctx, domain.State{})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Resume(ctx, domain.State{RawInput: "x", DeliveryStatus: "sent"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestReloadAppliesThreshold(t *testing.T) {
	c := newFakeCompleter(happyReplies())
	svc := newTestService(t, DefaultSettings(), c, &fakeSender{}, nil)

	settings := DefaultSettings()
	settings.MatchThreshold = 90
	require.NoError(t, svc.Reload(settings))

	res, err := svc.Start(context.Background(), StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonNoQualified, res.Reason)

	settings.Disabled = []domain.Destination{domain.DestAnalyze}
	assert.ErrorIs(t, svc.Reload(settings), domain.ErrConfigInvalid)
}

func TestDisabledDraftFinishesEarly(t *testing.T) {
	settings := DefaultSettings()
	settings.Disabled = []domain.Destination{domain.DestDraft}
	c := newFakeCompleter(happyReplies())
	svc := newTestService(t, settings, c, &fakeSender{}, nil)

	res, err := svc.Start(context.Background(), StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps)
	assert.Zero(t, c.count(prompts.TemplateDraft))
	last := res.Trace[len(res.Trace)-1]
	assert.True(t, last.Decision.Coerced)
}

func TestNewExecutorRequiresEveryUnit(t *testing.T) {
	_, err := NewExecutor(ExecutorConfig{Logger: quietLogger()})
	assert.ErrorIs(t, err, domain.ErrUnknownDestination)
}

func TestNewServiceRequiresPorts(t *testing.T) {
	_, err := NewService(DefaultSettings(), Dependencies{})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRepeatedResumeSendsAtMostOnce(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sender := &fakeSender{outcome: mail.Delivered()}
		svc := newTestService(t, DefaultSettings(), newFakeCompleter(happyReplies()), sender, nil)
		ctx := context.Background()

		result, err := svc.Start(ctx, StartRequest{RawInput: "Need a senior Go engineer"})
		require.NoError(rt, err)

		resumes := rapid.IntRange(1, 5).Draw(rt, "resumes")
		for i := 0; i < resumes; i++ {
			result, err = svc.Resume(ctx, result.State)
			require.NoError(rt, err)
		}
		if len(sender.sent) > 1 {
			rt.Fatalf("sent %d messages after %d resumes", len(sender.sent), resumes)
		}
		assert.Equal(rt, domain.RunCompleted, result.Status)
	})
}

func TestUnauthorizedDraftedStateDispatchesNothing(t *testing.T) {
	sender := &fakeSender{outcome: mail.Delivered()}
	svc := newTestService(t, DefaultSettings(), newFakeCompleter(happyReplies()), sender, nil)
	ctx := context.Background()

	started, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	require.NoError(t, err)
	require.True(t, domain.Summarize(started.State).AwaitingApproval)

	recording := newFakeCompleter(nil)
	parked := newTestService(t, DefaultSettings(), recording, sender, nil)

	res, err := parked.executor.Load().Run(ctx, started.State)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonAwaitingApproval, res.Reason)
	assert.Zero(t, res.Steps)
	assert.Zero(t, recording.total())
	assert.Empty(t, sender.sent)
	assert.Equal(t, started.State.DraftArtifact, res.State.DraftArtifact)
}

func TestCancelDuringUnitDiscardsItsUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newFakeCompleter(happyReplies())
	c.onCall = func(template string) {
		if template == prompts.TemplateScreen {
			cancel()
		}
	}
	sender := &fakeSender{outcome: mail.Delivered()}
	svc := newTestService(t, DefaultSettings(), c, sender, nil)

	res, err := svc.Start(ctx, StartRequest{RawInput: "hire"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunSuspended, res.Status)
	assert.Equal(t, domain.ReasonCancelled, res.Reason)
	assert.Equal(t, 3, res.Steps)
	assert.Len(t, res.State.CandidateItems, 2)
	assert.Empty(t, res.State.Evaluations)
	assert.Empty(t, res.State.QualifiedSubset)
	last := res.Trace[len(res.Trace)-1]
	assert.Equal(t, domain.DestEvaluate, last.Decision.Destination)
	assert.Equal(t, domain.ReasonCancelled, last.Outcome)

	// resuming without a draft evaluates and parks, it never sends
	c.mu.Lock()
	c.onCall = nil
	c.mu.Unlock()
	resumed, err := svc.Resume(context.Background(), res.State)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuspended, resumed.Status)
	assert.Equal(t, domain.ReasonAwaitingApproval, resumed.Reason)
	assert.Len(t, resumed.State.Evaluations, 2)
	require.Len(t, resumed.State.QualifiedSubset, 1)
	assert.False(t, resumed.State.Authorized)
	assert.Empty(t, sender.sent)
}

func TestResumeWithoutDraftDoesNotAuthorize(t *testing.T) {
	sender := &fakeSender{outcome: mail.Delivered()}
	svc := newTestService(t, DefaultSettings(), newFakeCompleter(happyReplies()), sender, nil)

	res, err := svc.Resume(context.Background(), domain.State{RawInput: "Need a senior Go engineer", Authorized: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonAwaitingApproval, res.Reason)
	assert.Equal(t, 4, res.Steps)
	assert.Equal(t, domain.DeliveryDraftedPending, res.State.DeliveryStatus)
	assert.Empty(t, sender.sent)
}
