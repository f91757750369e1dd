// Package prompts resolves and renders the completion templates used by the work
// units. Defaults are embedded in the binary; a directory can override any of them.
package prompts

import (
	"context"
	"errors"
)

// ErrPromptNotFound is returned when a requested template cannot be found.
var ErrPromptNotFound = errors.New("prompt not found")

// Template identifiers.
const (
	TemplateAnalyze        = "analyze"
	TemplateGenerate       = "generate"
	TemplateScreen         = "screen"
	TemplateExtractContact = "extract_contact"
	TemplateDraft          = "draft"
	TemplateSupervisor     = "supervisor"
)

// Provider retrieves raw template text by identifier.
type Provider interface {
	GetTemplate(ctx context.Context, id string) (string, error)
}
