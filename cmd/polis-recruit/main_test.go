package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/polisai/polis-recruit/pkg/config"
	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/llm"
	"github.com/polisai/polis-recruit/pkg/logging"
	"github.com/polisai/polis-recruit/pkg/policy"
	"github.com/polisai/polis-recruit/pkg/prompts"
	"github.com/polisai/polis-recruit/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptedCompleter() llm.Completer {
	replies := map[string]string{
		prompts.TemplateAnalyze:        `{"job_description":"Go engineer","generation_prompt":"one profile"}`,
		prompts.TemplateGenerate:       `["Alice: 10 years of Go"]`,
		prompts.TemplateScreen:         `[{"name":"Alice","score":92,"reasoning":"excellent"}]`,
		prompts.TemplateExtractContact: "jobs@example.com",
		prompts.TemplateDraft:          "Subject: Alice\n\nDear Hiring Team, meet Alice.",
	}
	return llm.CompleterFunc(func(_ context.Context, template string, _ map[string]any) (string, error) {
		return replies[template], nil
	})
}

// isolate clears the environment the CLI reads and stubs the completion provider.
func isolate(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"RECRUIT_LISTEN_ADDR", "RECRUIT_LOG_LEVEL", "RECRUIT_MATCH_THRESHOLD",
		"RECRUIT_OTLP_ENDPOINT", "RECRUIT_JOURNAL_PATH",
		"SMTP_SERVER", "SMTP_PORT", "SENDER_EMAIL", "SMTP_PASSWORD",
	} {
		t.Setenv(name, "")
	}
	original := newCompleter
	newCompleter = func(context.Context, *config.Config, *slog.Logger) (llm.Completer, error) {
		return scriptedCompleter(), nil
	}
	t.Cleanup(func() { newCompleter = original })
}

func execute(t *testing.T, stdin string, args ...string) (cliResult, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()

	var result cliResult
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &result), out.String())
	}
	return result, err
}

func TestRunParksAwaitingApproval(t *testing.T) {
	isolate(t)

	result, err := execute(t, "", "run", "Go engineer, one profile")
	require.NoError(t, err)
	assert.Equal(t, string(domain.RunSuspended), result.Status)
	assert.Equal(t, domain.ReasonAwaitingApproval, result.Reason)
	assert.True(t, result.Summary.AwaitingApproval)
	assert.Equal(t, "jobs@example.com", result.State.TargetAddress)
}

func TestRunReadsStdin(t *testing.T) {
	isolate(t)

	result, err := execute(t, "Go engineer from stdin", "run")
	require.NoError(t, err)
	assert.Equal(t, "Go engineer from stdin", result.State.RawInput)
}

func TestRunRejectsEmptyInput(t *testing.T) {
	isolate(t)

	result, err := execute(t, "  ", "run")
	require.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, domain.CodeInvalidRequest, result.Code)
}

func TestRunAuthorizeAndResume(t *testing.T) {
	isolate(t)

	// without a mail gateway the delivery is simulated
	result, err := execute(t, "", "run", "--authorize", "Go engineer")
	require.NoError(t, err)
	assert.Equal(t, string(domain.RunCompleted), result.Status)
	assert.Equal(t, domain.ReasonSimulated, result.Reason)
	assert.Equal(t, domain.DeliverySkipped, result.Summary.DeliveryStatus)

	parked, err := execute(t, "", "run", "--candidate", "Bob: 12 years of Go", "--to", "hr@example.com", "Go engineer")
	require.NoError(t, err)
	require.True(t, parked.Summary.AwaitingApproval)
	assert.Equal(t, "hr@example.com", parked.State.TargetAddress)

	data, err := json.Marshal(parked)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	resumed, err := execute(t, "", "resume", path)
	require.NoError(t, err)
	assert.Equal(t, parked.RunID, resumed.RunID)
	assert.Equal(t, string(domain.RunCompleted), resumed.Status)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "polis-recruit dev\n", out.String())
}

func TestReadState(t *testing.T) {
	state := domain.NewState("run-9", "hire")
	bare, err := json.Marshal(state)
	require.NoError(t, err)
	wrapped, err := json.Marshal(map[string]any{"status": "suspended", "state": state})
	require.NoError(t, err)

	dir := t.TempDir()
	barePath := filepath.Join(dir, "bare.json")
	require.NoError(t, os.WriteFile(barePath, bare, 0o600))

	got, err := readState(nil, barePath)
	require.NoError(t, err)
	assert.Equal(t, "run-9", got.RunID)

	got, err = readState(bytes.NewReader(wrapped), "-")
	require.NoError(t, err)
	assert.Equal(t, "hire", got.RawInput)

	_, err = readState(strings.NewReader("not json"), "-")
	assert.Error(t, err)

	_, err = readState(nil, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestBuildFallback(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	src, err := buildFallback(ctx, config.RoutingConfig{}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, engine.StaticFallback{}, src)

	src, err = buildFallback(ctx, config.RoutingConfig{Fallback: config.FallbackLLM}, scriptedCompleter(), logger)
	require.NoError(t, err)
	assert.Equal(t, "llm", src.Name())

	_, err = buildFallback(ctx, config.RoutingConfig{Fallback: config.FallbackLLM}, nil, logger)
	assert.Error(t, err)

	src, err = buildFallback(ctx, config.RoutingConfig{Fallback: config.FallbackRego}, nil, logger)
	require.NoError(t, err)
	assert.IsType(t, &policy.Engine{}, src)

	_, err = buildFallback(ctx, config.RoutingConfig{Fallback: "coinflip"}, nil, logger)
	assert.Error(t, err)
}

func TestOpenJournal(t *testing.T) {
	ctx := context.Background()

	j, err := openJournal(ctx, "")
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryJournal{}, j)
	require.NoError(t, j.Close())

	path := filepath.Join(t.TempDir(), "journal.db")
	j, err = openJournal(ctx, path)
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteJournal{}, j)
	require.NoError(t, j.Close())
	assert.FileExists(t, path)
}

func TestAppReloadRejectsBadSettings(t *testing.T) {
	isolate(t)
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	next := config.Default()
	next.Pipeline.MatchThreshold = 90
	require.NoError(t, a.reload(context.Background(), next))

	next.Routing.Fallback = "coinflip"
	assert.Error(t, a.reload(context.Background(), next))
}
