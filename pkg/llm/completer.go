// Package llm implements the completion capability: prompt templates rendered
// through pkg/prompts and sent to an OpenAI-compatible endpoint or to Gemini, with
// retries and a circuit breaker around every call.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when the provider answered with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Completer is the port the work units call. template names a prompt template and
// vars fills it.
type Completer interface {
	Complete(ctx context.Context, template string, vars map[string]any) (string, error)
}

// Request is one rendered prompt sent to a provider.
type Request struct {
	Prompt      string
	JSON        bool
	Temperature float64
}

// Provider sends a rendered prompt to a model.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, template string, vars map[string]any) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, template string, vars map[string]any) (string, error) {
	return f(ctx, template, vars)
}
