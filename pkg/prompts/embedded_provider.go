package prompts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// EmbeddedProvider serves the templates compiled into the binary.
type EmbeddedProvider struct{}

// NewEmbeddedProvider returns the built-in template set.
func NewEmbeddedProvider() *EmbeddedProvider {
	return &EmbeddedProvider{}
}

func (EmbeddedProvider) GetTemplate(_ context.Context, id string) (string, error) {
	data, err := defaultTemplates.ReadFile("templates/" + cleanFilename(id) + ".tmpl")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrPromptNotFound, id)
		}
		return "", fmt.Errorf("read embedded template %q: %w", id, err)
	}
	return string(data), nil
}
