package policy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/polis-recruit/pkg/domain"
)

//go:embed default.rego
var defaultModule string

// DefaultEntrypoint is the decision path evaluated by the engine.
const DefaultEntrypoint = "recruit/routing/decision"

// EngineOptions control engine construction.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "recruit/routing/decision").
	Entrypoint string
	// Modules holds Rego sources by name. Empty means the embedded default module.
	Modules map[string]string
	Logger  *slog.Logger
}

// Decision is the raw policy answer.
type Decision struct {
	Destination string
	Reason      string
}

// Engine evaluates the routing policy. Decisions are cached per distinct fact set.
type Engine struct {
	query  rego.PreparedEvalQuery
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[domain.RoutingFacts]Decision
}

// NewEngine parses and compiles the modules.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.Trim(strings.TrimSpace(opts.Entrypoint), "/")
	if entry == "" {
		entry = DefaultEntrypoint
	}
	modules := opts.Modules
	if len(modules) == 0 {
		modules = map[string]string{"default.rego": defaultModule}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	regoOpts := []func(*rego.Rego){rego.Query("data." + strings.ReplaceAll(entry, "/", "."))}
	for name, src := range modules {
		module, err := ast.ParseModuleWithOpts(name, src, ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return &Engine{
		query:  prepared,
		logger: logger,
		cache:  make(map[domain.RoutingFacts]Decision),
	}, nil
}

// NewEngineFromFile loads a single module from disk. An empty path selects the
// embedded default.
func NewEngineFromFile(ctx context.Context, path string, logger *slog.Logger) (*Engine, error) {
	if strings.TrimSpace(path) == "" {
		return NewEngine(ctx, EngineOptions{Logger: logger})
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rego module: %w", err)
	}
	return NewEngine(ctx, EngineOptions{Modules: map[string]string{path: string(src)}, Logger: logger})
}

// Evaluate runs the policy against facts.
func (e *Engine) Evaluate(ctx context.Context, facts domain.RoutingFacts) (Decision, error) {
	e.mu.RLock()
	cached, ok := e.cache[facts]
	e.mu.RUnlock()
	if ok {
		return cached, nil
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(facts.Map()))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.New("opa decision: policy produced no result")
	}

	var decision Decision
	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		decision.Destination = v
	case map[string]any:
		decision.Destination, _ = v["destination"].(string)
		decision.Reason, _ = v["reason"].(string)
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", v)
	}

	e.logger.Debug("routing policy evaluated", "destination", decision.Destination, "reason", decision.Reason)

	e.mu.Lock()
	e.cache[facts] = decision
	e.mu.Unlock()
	return decision, nil
}

// Decide implements the router's fallback source contract.
func (e *Engine) Decide(ctx context.Context, facts domain.RoutingFacts) (string, error) {
	d, err := e.Evaluate(ctx, facts)
	if err != nil {
		return "", err
	}
	return d.Destination, nil
}

// Name identifies the source in logs and metrics.
func (e *Engine) Name() string { return "rego" }
