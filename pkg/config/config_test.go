package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/polisai/polis-recruit/pkg/domain"
	"github.com/polisai/polis-recruit/pkg/engine"
	"github.com/polisai/polis-recruit/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "recruit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.ListenAddr)
	assert.Equal(t, 75, cfg.Pipeline.MatchThreshold)
	assert.Equal(t, 6, cfg.Pipeline.MaxSteps)
	assert.Equal(t, 10, cfg.Pipeline.MaxCandidates)
	assert.True(t, cfg.Pipeline.AnalyzeOn())
	assert.Equal(t, FallbackStatic, cfg.Routing.Fallback)
	assert.Equal(t, "openai", cfg.LLM.Provider)
}

func TestLoadFileWithExpansion(t *testing.T) {
	t.Setenv("TEST_RECRUIT_MODEL", "llama-test")
	path := writeConfig(t, t.TempDir(), `
server:
  listen_addr: ":9999"
  runs_per_second: 2
llm:
  provider: Gemini
  model: ${TEST_RECRUIT_MODEL}
pipeline:
  match_threshold: 85
  max_steps: 6
  max_candidates: 5
  analyze_enabled: false
  disabled_steps: [send_outreach]
routing:
  fallback: REGO
mail:
  subject: Matches
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "llama-test", cfg.LLM.Model)
	assert.False(t, cfg.Pipeline.AnalyzeOn())
	assert.Equal(t, FallbackRego, cfg.Routing.Fallback)
	assert.Len(t, cfg.Server.RunLimits(), 1)

	settings, err := cfg.EngineSettings(engine.StaticFallback{})
	require.NoError(t, err)
	assert.Equal(t, 85, settings.MatchThreshold)
	assert.Equal(t, 5, settings.MaxCandidates)
	assert.False(t, settings.AnalyzeEnabled)
	assert.Equal(t, "Matches", settings.Subject)
	assert.Equal(t, []domain.Destination{domain.DestTransmit}, settings.Disabled)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RECRUIT_MATCH_THRESHOLD", "90")
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("RECRUIT_LLM_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Pipeline.MatchThreshold)
	assert.Equal(t, "groq-key", cfg.LLM.APIKey)
}

func TestGeminiKeyLookup(t *testing.T) {
	t.Setenv("RECRUIT_LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("GROQ_API_KEY", "groq-key")
	path := writeConfig(t, t.TempDir(), "llm:\n  provider: gemini\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey)
}

func TestConfigValidation(t *testing.T) {
	cases := map[string]string{
		"threshold":     "pipeline:\n  match_threshold: 150\n",
		"steps":         "pipeline:\n  max_steps: 0\n",
		"too few steps": "pipeline:\n  max_steps: 4\n",
		"disable analy": "pipeline:\n  disabled_steps: [analyze]\n",
		"unknown step":  "pipeline:\n  disabled_steps: [interview]\n",
		"fallback":      "routing:\n  fallback: coinflip\n",
		"provider":      "llm:\n  provider: parrot\n",
		"log level":     "logging:\n  level: loud\n",
		"tls":           "server:\n  tls:\n    enabled: true\n",
		"tls version":   "server:\n  tls:\n    enabled: true\n    cert_file: c\n    key_file: k\n    min_version: \"1.0\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), body))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)

			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestMaxStepsCoversEveryUnit(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), "pipeline:\n  max_steps: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxSteps)
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-example")
	t.Setenv("RECRUIT_MATCH_THRESHOLD", "")

	cfg, err := Load(filepath.Join("..", "..", "configs", "recruit.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gsk-example", cfg.LLM.APIKey)
	assert.Equal(t, 75, cfg.Pipeline.MatchThreshold)
	assert.Equal(t, 2.0, cfg.Server.RunsPerSecond)
	assert.Equal(t, FallbackStatic, cfg.Routing.Fallback)
	assert.True(t, cfg.Pipeline.AnalyzeOn())
	assert.Equal(t, 30*time.Second, cfg.Telemetry.Telemetry().MetricInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pipeline:\n  match_threshold: 70\n")

	var threshold atomic.Int64
	w, err := NewWatcher(path, func(cfg *Config) error {
		threshold.Store(int64(cfg.Pipeline.MatchThreshold))
		return nil
	}, logging.Discard())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, dir, "pipeline:\n  match_threshold: 80\n")
	assert.Eventually(t, func() bool { return threshold.Load() == 80 }, 2*time.Second, 10*time.Millisecond)

	// an invalid file keeps the previous configuration
	writeConfig(t, dir, "pipeline:\n  match_threshold: 0\n")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(80), threshold.Load())

	cancel()
	require.NoError(t, <-done)
}
