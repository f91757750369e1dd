package prompts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider reads templates from a directory laid out as
//
//	rootDir/
//	  {id}.tmpl
//
// and defers to a fallback provider for identifiers it does not have.
type LocalProvider struct {
	rootDir  string
	fallback Provider
}

// NewLocalProvider creates a provider reading from rootDir. A nil fallback means
// the embedded defaults.
func NewLocalProvider(rootDir string, fallback Provider) *LocalProvider {
	if fallback == nil {
		fallback = NewEmbeddedProvider()
	}
	return &LocalProvider{rootDir: rootDir, fallback: fallback}
}

func (p *LocalProvider) GetTemplate(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("template id is required")
	}
	if p.rootDir == "" {
		return p.fallback.GetTemplate(ctx, id)
	}

	path := filepath.Join(p.rootDir, cleanFilename(id)+".tmpl")
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p.fallback.GetTemplate(ctx, id)
		}
		return "", fmt.Errorf("failed to read template %q: %w", id, err)
	}
	return string(content), nil
}

func cleanFilename(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "..", ""), "/", "")
}
