package prompts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Renderer resolves templates through a Provider and executes them against a
// variable map. Parsed templates are cached by source text, so an edited override
// file is picked up on the next render.
type Renderer struct {
	provider Provider

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewRenderer creates a renderer. A nil provider means the embedded defaults.
func NewRenderer(provider Provider) *Renderer {
	if provider == nil {
		provider = NewEmbeddedProvider()
	}
	return &Renderer{provider: provider, cache: make(map[string]*template.Template)}
}

// Render returns the prompt text for template id. Missing variables are an error.
func (r *Renderer) Render(ctx context.Context, id string, vars map[string]any) (string, error) {
	src, err := r.provider.GetTemplate(ctx, id)
	if err != nil {
		return "", err
	}

	tmpl, err := r.parse(id, src)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render template %q: %w", id, err)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (r *Renderer) parse(id, src string) (*template.Template, error) {
	key := id + "\x00" + src

	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.cache[key]; ok {
		return tmpl, nil
	}
	tmpl, err := template.New(id).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", id, err)
	}
	r.cache[key] = tmpl
	return tmpl, nil
}
